package registry

import (
	"context"
	"errors"
	"sort"

	"github.com/adwski/studygroup-relay/backend/model"
)

// Join subscribes the connection to the room after the membership gate
// confirms the bound identity belongs to the group. Joining twice is a no-op.
func (r *Registry) Join(ctx context.Context, connID, roomID string) error {
	if err := r.Authorize(ctx, connID, roomID); err != nil {
		return err
	}
	return r.Admit(connID, roomID)
}

// Authorize consults the membership gate for the identity bound to the
// connection. The gate is queried without holding the registry lock.
func (r *Registry) Authorize(ctx context.Context, connID, roomID string) error {
	conn, ok := r.Lookup(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if conn.Identity.Anonymous() {
		return errors.Join(ErrUnauthorized, ErrAnonymous)
	}
	return r.authorize(ctx, roomID, conn.Identity.ID)
}

// Admit adds an authorized connection to the room.
func (r *Registry) Admit(connID, roomID string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		// disconnected while the gate was pending
		return ErrUnknownConnection
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	e.rooms[roomID] = struct{}{}

	r.logger.Debug().
		Str("connID", connID).
		Str("roomID", roomID).
		Int("members", len(members)).
		Msg("joined room")
	return nil
}

func (r *Registry) authorize(ctx context.Context, groupID, userID string) error {
	if r.gate == nil {
		return ErrUnauthorized
	}
	ctx, cancel := context.WithTimeout(ctx, r.gateTimeout)
	defer cancel()

	ok, err := r.gate.IsMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.Join(ErrUnauthorized, ErrGateTimeout)
		}
		return errors.Join(ErrUnauthorized, err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// Leave unsubscribes the connection from the room. Leaving a room that was
// never joined is not an error.
func (r *Registry) Leave(connID, roomID string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if e, ok := r.conns[connID]; ok {
		delete(e.rooms, roomID)
	}
	r.removeMember(roomID, connID)
}

// removeMember must be called with the write lock held.
func (r *Registry) removeMember(roomID, connID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// MembersOf returns the connections currently subscribed to the room.
func (r *Registry) MembersOf(roomID string) []string {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return sortedKeys(r.rooms[roomID])
}

func (r *Registry) InRoom(connID, roomID string) bool {
	r.mx.RLock()
	defer r.mx.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// Rooms enumerates every non-empty room.
func (r *Registry) Rooms() []model.Room {
	r.mx.RLock()
	defer r.mx.RUnlock()

	rooms := make([]model.Room, 0, len(r.rooms))
	for roomID, members := range r.rooms {
		rooms = append(rooms, model.Room{
			ID:      roomID,
			Members: sortedKeys(members),
		})
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
