package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultGateTimeout = 3 * time.Second
)

var (
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrUnauthorized      = errors.New("not authorized to join room")
	ErrAnonymous         = errors.New("connection has no bound identity")
	ErrGateTimeout       = errors.New("membership check timed out")
)

type (
	// MembershipGate answers whether a user is a recorded member of a group.
	MembershipGate interface {
		IsMember(ctx context.Context, groupID, userID string) (bool, error)
	}

	Config struct {
		Logger      *zerolog.Logger
		Gate        MembershipGate
		GateTimeout time.Duration
	}

	// Registry holds every live connection and the rooms they have joined.
	// Connections and rooms share one lock so that the unregister cascade
	// is atomic with respect to join and leave on the same connection.
	Registry struct {
		logger      zerolog.Logger
		gate        MembershipGate
		gateTimeout time.Duration

		mx    *sync.RWMutex
		conns map[string]*entry
		rooms map[string]map[string]struct{}
	}
)

func New(cfg Config) *Registry {
	timeout := cfg.GateTimeout
	if timeout <= 0 {
		timeout = defaultGateTimeout
	}
	return &Registry{
		logger:      cfg.Logger.With().Str("component", "registry").Logger(),
		gate:        cfg.Gate,
		gateTimeout: timeout,
		mx:          &sync.RWMutex{},
		conns:       make(map[string]*entry),
		rooms:       make(map[string]map[string]struct{}),
	}
}
