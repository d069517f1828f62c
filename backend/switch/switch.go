package _switch

import (
	"errors"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrNotAMember    = errors.New("sender is not a member of the room")
	ErrUnknownTarget = errors.New("signaling target is not connected")
	ErrUnknownSender = errors.New("sender is not connected")
	ErrEncode        = errors.New("unable to encode event")
)

// Registry is the read side of the connection and room registries.
type Registry interface {
	Lookup(connID string) (model.Connection, bool)
	MembersOf(roomID string) []string
	InRoom(connID, roomID string) bool
}

// Switch relays chat messages to rooms and signaling envelopes to single
// connections. It never mutates the registry.
type Switch struct {
	logger zerolog.Logger
	reg    Registry
}

func NewSwitch(reg Registry, logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		reg:    reg,
	}
}

// Deliver queues the event for a single connection. It reports false when the
// connection is gone or its outbound queue is full.
func (sw *Switch) Deliver(connID string, ev model.Event) bool {
	conn, ok := sw.reg.Lookup(connID)
	if !ok {
		sw.logger.Debug().
			Str("dst", connID).
			Str("type", ev.Type).
			Msg("cannot deliver, dst not found")
		return false
	}
	return send(conn, ev, &sw.logger)
}

func send(conn model.Connection, ev model.Event, logger *zerolog.Logger) bool {
	select {
	case conn.TX <- ev:
		logger.Trace().Str("dst", conn.ID).Str("type", ev.Type).Msg("event is forwarded")
		return true
	default:
		logger.Warn().Str("dst", conn.ID).Str("type", ev.Type).Msg("dead endpoint, event dropped")
		return false
	}
}
