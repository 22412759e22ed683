// Package publisher defines the batch notification published on every state
// transition. Transport implementations live in the subpackages.
package publisher

import (
	"time"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// Notification announces that a batch reached a new state.
type Notification struct {
	BatchID   string    `json:"batch_id"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewNotification snapshots batch.
func NewNotification(batch ingest.ImportBatch) Notification {
	return Notification{
		BatchID:   batch.ID,
		Source:    batch.Source,
		Kind:      string(batch.Kind),
		State:     string(batch.State),
		Error:     batch.Error,
		Timestamp: batch.Modified,
	}
}

// Attributes are copied onto transport message attributes so subscribers
// can filter without decoding the body.
func (n Notification) Attributes() map[string]string {
	attrs := map[string]string{
		"batch_id": n.BatchID,
		"source":   n.Source,
		"kind":     n.Kind,
		"state":    n.State,
	}
	return attrs
}
