package model

import (
	"time"
	"trackcore/internal/core/util"
)

// Raw frame processing statuses. A frame is stored as pending before decoding
// starts, deleted outright on full success, and kept with a terminal status
// otherwise so operators can replay or inspect it.
const (
	RawPending     = "pending"
	RawSuppressed  = "suppressed"
	RawFailed      = "failed"
	RawRejected    = "rejected"
	RawRateLimited = "rate_limited"
	RawUnknownID   = "unknown_identity"
)

// RawFrame is the audit copy of one wire frame as it arrived.
type RawFrame struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // remote address or bus subject
	Transport string    `json:"transport"`
	Payload   []byte    `json:"payload"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewRawFrame(source, transport string, payload []byte) *RawFrame {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &RawFrame{
		ID:        util.GenerateID(),
		Source:    source,
		Transport: transport,
		Payload:   buf,
		Status:    RawPending,
		CreatedAt: time.Now(),
	}
}
