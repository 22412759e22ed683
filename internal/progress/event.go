// Package progress defines the live events emitted while batches advance.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchState Stage = "BATCH_STATE"
	StageBatchError Stage = "BATCH_ERROR"
	StageItemDone   Stage = "ITEM_DONE"
	StageItemError  Stage = "ITEM_ERROR"
)

// Event captures one step of batch progress.
type Event struct {
	BatchID string    `json:"batch_id"`
	Kind    string    `json:"kind,omitempty"`
	TS      time.Time `json:"ts"`
	Stage   Stage     `json:"stage"`
	// State is the batch state the event belongs to.
	State string `json:"state,omitempty"`
	// ItemID scopes item events to one ImportResult.
	ItemID string `json:"item_id,omitempty"`
	// Result is the item outcome (created, changed, deleted...) or error kind.
	Result string `json:"result,omitempty"`
	// Dur is the time spent in the step that just finished.
	Dur time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchState, StageBatchError:
		if e.State == "" {
			return fmt.Errorf("%s requires state", e.Stage)
		}
	case StageItemDone, StageItemError:
		if e.ItemID == "" {
			return fmt.Errorf("%s requires item id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
