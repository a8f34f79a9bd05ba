package model

import (
	"time"
	"trackcore/internal/core/util"
)

// DenylistEntry records a malicious payload/source pair. An entry blocks
// further decoding from its source immediately; deleting the source's stored
// frame history is a separate administrative promotion.
type DenylistEntry struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Payload   []byte    `json:"payload,omitempty"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewDenylistEntry(source, reason string, payload []byte) *DenylistEntry {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &DenylistEntry{
		ID:        util.GenerateID(),
		Source:    source,
		Payload:   buf,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}
