package repository

import (
	"sync"
	"trackcore/internal/core/model"
)

type inMemoryRawFrameRepository struct {
	frames map[string]*model.RawFrame
	mutex  sync.RWMutex
}

func NewInMemoryRawFrameRepository() RawFrameRepository {
	return &inMemoryRawFrameRepository{
		frames: make(map[string]*model.RawFrame),
	}
}

func (r *inMemoryRawFrameRepository) Create(frame *model.RawFrame) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.frames[frame.ID] = frame
	return nil
}

func (r *inMemoryRawFrameRepository) UpdateStatus(id, status, detail string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if frame, exists := r.frames[id]; exists {
		frame.Status = status
		frame.Detail = detail
	}
	return nil
}

func (r *inMemoryRawFrameRepository) Delete(id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.frames, id)
	return nil
}

func (r *inMemoryRawFrameRepository) DeleteBySource(source string) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var deleted int64
	for id, frame := range r.frames {
		if frame.Source == source {
			delete(r.frames, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *inMemoryRawFrameRepository) FindByStatus(status string) ([]*model.RawFrame, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.RawFrame
	for _, frame := range r.frames {
		if frame.Status == status {
			result = append(result, frame)
		}
	}
	return result, nil
}
