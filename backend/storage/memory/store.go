package memory

import (
	"context"
	"sync"
)

// MemStore keeps group membership in memory. It is meant for local
// development and tests where no persisted store is available.
type MemStore struct {
	mx *sync.RWMutex
	db map[string]map[string]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.RWMutex{},
		db: make(map[string]map[string]struct{}),
	}
}

func (ms *MemStore) AddMember(groupID, userID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	group, ok := ms.db[groupID]
	if !ok {
		group = make(map[string]struct{})
		ms.db[groupID] = group
	}
	group[userID] = struct{}{}
}

func (ms *MemStore) RemoveMember(groupID, userID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	group, ok := ms.db[groupID]
	if !ok {
		return
	}
	delete(group, userID)
	if len(group) == 0 {
		delete(ms.db, groupID)
	}
}

func (ms *MemStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	_, ok := ms.db[groupID][userID]
	return ok, nil
}
