package repository

import (
	"sync"
	"trackcore/internal/core/model"
)

type inMemoryDenylistRepository struct {
	entries map[string]*model.DenylistEntry
	mutex   sync.RWMutex
}

func NewInMemoryDenylistRepository() DenylistRepository {
	return &inMemoryDenylistRepository{
		entries: make(map[string]*model.DenylistEntry),
	}
}

func (r *inMemoryDenylistRepository) Create(entry *model.DenylistEntry) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries[entry.Source] = entry
	return nil
}

func (r *inMemoryDenylistRepository) IsDenied(source string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, denied := r.entries[source]
	return denied, nil
}

func (r *inMemoryDenylistRepository) FindAll() ([]*model.DenylistEntry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]*model.DenylistEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry)
	}
	return result, nil
}
