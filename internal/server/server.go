// Package server exposes the stream engine over persistent websocket
// connections.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/foliostream/gateway/internal/auth"
	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/stream"
	"github.com/foliostream/gateway/lib/async"
)

const defaultLivePriceTimeout = 10 * time.Second

// Options tunes per-connection transport behaviour.
type Options struct {
	// ReadLimitBytes bounds inbound frame size.
	ReadLimitBytes int64
	// SendBufferSize is the per-connection outbound queue depth; a full queue
	// marks the connection as a slow consumer and evicts it.
	SendBufferSize int
	// PingInterval paces keepalive pings on idle connections.
	PingInterval time.Duration
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimitBytes <= 0 {
		o.ReadLimitBytes = 512 * 1024
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Server admits authenticated websocket connections and drives their
// sessions against the stream engine.
type Server struct {
	engine   *stream.Engine
	verifier auth.TokenVerifier
	handlers *async.Pool
	opts     Options
}

// New constructs a websocket server. The handler pool runs one-shot work
// (live price fetches) so provider latency never blocks a connection's
// subscribe ordering.
func New(engine *stream.Engine, verifier auth.TokenVerifier, handlers *async.Pool, opts Options) *Server {
	return &Server{
		engine:   engine,
		verifier: verifier,
		handlers: handlers,
		opts:     opts.withDefaults(),
	}
}

// ServeHTTP upgrades the request to a websocket session. A missing or
// invalid credential rejects the request before any registry state exists.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	identity, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		observability.Log().Debug("connection rejected",
			observability.F("remote", r.RemoteAddr),
			observability.F("error", err.Error()))
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observability.Log().Debug("websocket accept failed",
			observability.F("remote", r.RemoteAddr),
			observability.F("error", err.Error()))
		return
	}
	conn.SetReadLimit(s.opts.ReadLimitBytes)

	sess := newSession(uuid.NewString(), identity.UserID, conn, s.engine, s.handlers, s.opts)
	sess.run(r.Context())
}

// bearerToken extracts the credential from the Authorization header or the
// token query parameter (browser websocket clients cannot set headers).
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
