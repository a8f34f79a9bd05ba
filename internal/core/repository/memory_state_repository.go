package repository

import (
	"sync"
	"time"
	"trackcore/internal/core/model"
)

type inMemoryStateChangeRepository struct {
	changes []*model.StateChange
	mutex   sync.RWMutex
}

func NewInMemoryStateChangeRepository() StateChangeRepository {
	return &inMemoryStateChangeRepository{}
}

func (r *inMemoryStateChangeRepository) Create(change *model.StateChange) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.changes = append(r.changes, change)
	return nil
}

func (r *inMemoryStateChangeRepository) FindByDeviceID(deviceID string) ([]*model.StateChange, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.StateChange
	for _, change := range r.changes {
		if change.DeviceID == deviceID {
			result = append(result, change)
		}
	}
	return result, nil
}

func (r *inMemoryStateChangeRepository) FindLatestByDeviceID(deviceID string) (*model.StateChange, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var latest *model.StateChange
	var latestTime time.Time

	for _, change := range r.changes {
		if change.DeviceID == deviceID {
			if latest == nil || change.Timestamp.After(latestTime) {
				latest = change
				latestTime = change.Timestamp
			}
		}
	}
	return latest, nil
}
