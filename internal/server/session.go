package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/conc"

	"github.com/foliostream/gateway/errs"
	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/schema"
	"github.com/foliostream/gateway/internal/stream"
	"github.com/foliostream/gateway/lib/async"
)

// session owns one websocket connection. The read loop is the single writer
// for the connection's subscription state, so subscribe and unsubscribe
// requests apply in arrival order. Outbound traffic funnels through a
// buffered queue drained by the write loop; a full queue evicts the
// connection as a slow consumer.
type session struct {
	id       string
	userID   string
	conn     *websocket.Conn
	engine   *stream.Engine
	handlers *async.Pool
	opts     Options

	send      chan schema.Event
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
}

var _ stream.Sink = (*session)(nil)

func newSession(id, userID string, conn *websocket.Conn, engine *stream.Engine, handlers *async.Pool, opts Options) *session {
	return &session{
		id:       id,
		userID:   userID,
		conn:     conn,
		engine:   engine,
		handlers: handlers,
		opts:     opts,
		send:     make(chan schema.Event, opts.SendBufferSize),
		done:     make(chan struct{}),
	}
}

// run drives the session until the client disconnects, the request context
// ends, or the connection is evicted. Teardown always removes the
// connection from the registry.
func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	var wg conc.WaitGroup
	wg.Go(func() { s.writeLoop(ctx) })

	if err := s.engine.Admit(ctx, s.id, s.userID, s); err != nil {
		observability.Log().Warn("connection admission failed",
			observability.F("conn_id", s.id),
			observability.F("error", err.Error()))
		s.close()
		wg.Wait()
		_ = s.conn.Close(websocket.StatusInternalError, "admission failed")
		return
	}

	observability.Log().Info("connection admitted",
		observability.F("conn_id", s.id),
		observability.F("user_id", s.userID))

	s.readLoop(ctx)

	s.close()
	wg.Wait()
	s.engine.Remove(s.id)
	_ = s.conn.Close(websocket.StatusNormalClosure, "")

	observability.Log().Info("connection closed",
		observability.F("conn_id", s.id))
}

// Send enqueues an event for the write loop. It never blocks on the client:
// a closed session reports a delivery failure and a full queue evicts the
// connection so one slow reader cannot stall a broadcast cycle.
func (s *session) Send(ctx context.Context, event schema.Event) error {
	select {
	case <-s.done:
		return errs.New("server/session", errs.CodeDelivery,
			errs.WithMessage("connection closed"))
	case <-ctx.Done():
		return errs.New("server/session", errs.CodeDelivery,
			errs.WithMessage("send context done"), errs.WithCause(ctx.Err()))
	default:
	}
	select {
	case s.send <- event:
		return nil
	case <-s.done:
		return errs.New("server/session", errs.CodeDelivery,
			errs.WithMessage("connection closed"))
	case <-ctx.Done():
		return errs.New("server/session", errs.CodeDelivery,
			errs.WithMessage("send context done"), errs.WithCause(ctx.Err()))
	default:
		observability.Log().Warn("evicting slow consumer",
			observability.F("conn_id", s.id),
			observability.F("queue_depth", len(s.send)))
		s.close()
		return errs.New("server/session", errs.CodeDelivery,
			errs.WithMessage("send queue full"))
	}
}

// close makes the session refuse further sends and unblocks both loops.
// Safe to call multiple times and from any goroutine.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				observability.Log().Debug("websocket read failed",
					observability.F("conn_id", s.id),
					observability.F("error", err.Error()))
			}
			return
		}
		s.handleFrame(ctx, data)
	}
}

func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ping(ctx); err != nil {
				s.close()
				return
			}
		case event := <-s.send:
			if err := s.write(ctx, event); err != nil {
				observability.Log().Debug("websocket write failed",
					observability.F("conn_id", s.id),
					observability.F("event", string(event.Type)),
					observability.F("error", err.Error()))
				s.close()
				return
			}
		}
	}
}

func (s *session) write(ctx context.Context, event schema.Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *session) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.conn.Ping(pingCtx)
}

// handleFrame decodes one inbound frame and applies it. Subscription
// mutations run inline to preserve per-connection ordering; live price
// fetches go to the handler pool so provider latency never holds up the
// read loop.
func (s *session) handleFrame(ctx context.Context, data []byte) {
	msg, err := schema.DecodeClientMessage(data)
	if err != nil {
		s.sendError(ctx, err)
		return
	}

	switch msg.Type {
	case schema.ClientSubscribePortfolio:
		var payload schema.SubscribePortfolioPayload
		if err := decodeAndValidate(msg, &payload); err != nil {
			s.sendError(ctx, err)
			return
		}
		symbols, err := s.engine.SubscribePortfolio(ctx, s.id, s.userID, payload.PortfolioID)
		if err != nil {
			s.sendError(ctx, err)
			return
		}
		s.enqueue(ctx, schema.NewPortfolioSubscribedEvent(payload.PortfolioID, symbols))

	case schema.ClientSubscribeSymbols:
		var payload schema.SubscribeSymbolsPayload
		if err := decodeAndValidate(msg, &payload); err != nil {
			s.sendError(ctx, err)
			return
		}
		applied, err := s.engine.SubscribeSymbols(s.id, payload.Symbols)
		if err != nil {
			s.sendError(ctx, err)
			return
		}
		s.enqueue(ctx, schema.NewSymbolsSubscribedEvent(applied))

	case schema.ClientUnsubscribeSymbols:
		var payload schema.SubscribeSymbolsPayload
		if err := decodeAndValidate(msg, &payload); err != nil {
			s.sendError(ctx, err)
			return
		}
		removed, err := s.engine.UnsubscribeSymbols(s.id, payload.Symbols)
		if err != nil {
			s.sendError(ctx, err)
			return
		}
		s.enqueue(ctx, schema.NewSymbolsUnsubscribedEvent(removed))

	case schema.ClientGetLivePrice:
		var payload schema.LivePricePayload
		if err := decodeAndValidate(msg, &payload); err != nil {
			s.sendError(ctx, err)
			return
		}
		s.submitLivePrice(ctx, payload.Symbol)
	}
}

func (s *session) submitLivePrice(ctx context.Context, symbol string) {
	err := s.handlers.Submit(ctx, func(taskCtx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(taskCtx, defaultLivePriceTimeout)
		defer cancel()
		quote, err := s.engine.LivePrice(fetchCtx, symbol)
		if err != nil {
			s.sendError(fetchCtx, err)
			return nil
		}
		s.enqueue(fetchCtx, schema.NewLivePriceEvent(quote))
		return nil
	})
	if err != nil {
		s.sendError(ctx, err)
	}
}

func (s *session) enqueue(ctx context.Context, event schema.Event) {
	if err := s.Send(ctx, event); err != nil {
		observability.Log().Debug("session enqueue failed",
			observability.F("conn_id", s.id),
			observability.F("event", string(event.Type)),
			observability.F("error", err.Error()))
	}
}

// sendError reports a failed request to the client. The connection stays
// open; only transport failures close it.
func (s *session) sendError(ctx context.Context, err error) {
	code := errs.CodeOf(err)
	message := "request failed"
	var envelope *errs.E
	if errors.As(err, &envelope) && envelope.Message != "" {
		message = envelope.Message
	}
	s.enqueue(ctx, schema.NewErrorEvent(string(code), message))
}

func decodeAndValidate(msg schema.ClientMessage, dest interface{ Validate() error }) error {
	if err := msg.DecodePayload(dest); err != nil {
		return err
	}
	return dest.Validate()
}
