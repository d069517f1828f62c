package registry

import (
	"sort"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/google/uuid"
)

type entry struct {
	id       string
	identity model.Identity
	rooms    map[string]struct{}
	tx       chan<- model.Event
}

func (e *entry) snapshot() model.Connection {
	rooms := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return model.Connection{
		ID:       e.id,
		Identity: e.identity,
		Rooms:    rooms,
		TX:       e.tx,
	}
}

// Register adds a new connection with no identity and no rooms.
// Outbound events for the connection are delivered to tx.
func (r *Registry) Register(tx chan<- model.Event) string {
	r.mx.Lock()
	defer r.mx.Unlock()

	id := uuid.NewString()
	for _, ok := r.conns[id]; ok; _, ok = r.conns[id] {
		id = uuid.NewString()
	}
	r.conns[id] = &entry{
		id:    id,
		rooms: make(map[string]struct{}),
		tx:    tx,
	}
	r.logger.Debug().Str("connID", id).Msg("connection registered")
	return id
}

// BindIdentity attaches identity to the connection, replacing any previous binding.
func (r *Registry) BindIdentity(connID string, identity model.Identity) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		r.logger.Warn().Str("connID", connID).Msg("cannot bind identity, connection is gone")
		return ErrUnknownConnection
	}
	e.identity = identity
	r.logger.Debug().
		Str("connID", connID).
		Str("userID", identity.ID).
		Msg("identity bound")
	return nil
}

// Unregister removes the connection and drops it from every room it joined.
// It returns the rooms the connection was removed from.
func (r *Registry) Unregister(connID string) []string {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)

	left := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		r.removeMember(roomID, connID)
		left = append(left, roomID)
	}
	sort.Strings(left)

	r.logger.Debug().
		Str("connID", connID).
		Strs("rooms", left).
		Msg("connection unregistered")
	return left
}

func (r *Registry) Lookup(connID string) (model.Connection, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return model.Connection{}, false
	}
	return e.snapshot(), true
}

func (r *Registry) Count() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.conns)
}
