// Package schema defines the stream gateway wire protocol.
package schema

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/foliostream/gateway/errs"
)

// ClientMessageType enumerates supported client commands.
type ClientMessageType string

const (
	// ClientSubscribePortfolio requests a portfolio-wide subscription.
	ClientSubscribePortfolio ClientMessageType = "subscribe_portfolio"
	// ClientSubscribeSymbols requests incremental symbol subscriptions.
	ClientSubscribeSymbols ClientMessageType = "subscribe_symbols"
	// ClientUnsubscribeSymbols removes symbol subscriptions.
	ClientUnsubscribeSymbols ClientMessageType = "unsubscribe_symbols"
	// ClientGetLivePrice requests a one-shot quote outside the periodic loop.
	ClientGetLivePrice ClientMessageType = "get_live_price"
)

// ClientMessage is the tagged envelope for all client-to-server traffic.
// Payload shape is validated at the boundary before any registry mutation.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Payload json.RawMessage   `json:"payload"`
}

// DecodeClientMessage parses a raw frame into a tagged client message.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, errs.New("schema", errs.CodeInvalid,
			errs.WithMessage("malformed message frame"), errs.WithCause(err))
	}
	switch msg.Type {
	case ClientSubscribePortfolio, ClientSubscribeSymbols, ClientUnsubscribeSymbols, ClientGetLivePrice:
	default:
		return ClientMessage{}, errs.New("schema", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown message type %q", string(msg.Type))))
	}
	return msg, nil
}

// DecodePayload unmarshals the payload into the provided destination.
func (m ClientMessage) DecodePayload(dest any) error {
	if len(m.Payload) == 0 {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("message payload empty"))
	}
	if dest == nil {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("payload destination nil"))
	}
	if err := json.Unmarshal(m.Payload, dest); err != nil {
		return errs.New("schema", errs.CodeInvalid,
			errs.WithMessage("malformed message payload"), errs.WithCause(err))
	}
	return nil
}

// SubscribePortfolioPayload binds the connection to a portfolio's holdings.
type SubscribePortfolioPayload struct {
	PortfolioID string `json:"portfolioId"`
}

// Validate checks required fields.
func (p SubscribePortfolioPayload) Validate() error {
	if p.PortfolioID == "" {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("portfolioId required"))
	}
	return nil
}

// SubscribeSymbolsPayload adds or removes raw symbol subscriptions.
type SubscribeSymbolsPayload struct {
	Symbols []string `json:"symbols"`
}

// Validate checks required fields and symbol shape.
func (p SubscribeSymbolsPayload) Validate() error {
	if len(p.Symbols) == 0 {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("symbols required"))
	}
	for _, s := range p.Symbols {
		if err := ValidateSymbol(s); err != nil {
			return err
		}
	}
	return nil
}

// LivePricePayload names the symbol for a one-shot quote fetch.
type LivePricePayload struct {
	Symbol string `json:"symbol"`
}

// Validate checks required fields and symbol shape.
func (p LivePricePayload) Validate() error {
	return ValidateSymbol(p.Symbol)
}
