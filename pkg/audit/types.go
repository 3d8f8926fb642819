package audit

import (
	"context"
	"time"
)

// Entry is one audited event of a workflow instance.
type Entry struct {
	// ID is a random UUID assigned by the Recorder.
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	TenantID   string `json:"tenant_id"`

	// Sequence is 1-based and contiguous per instance.
	Sequence int64 `json:"sequence"`

	Actor  string `json:"actor"`
	Action string `json:"action"`

	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	PreviousStep   int    `json:"previous_step,omitempty"`
	NewStep        int    `json:"new_step,omitempty"`
	// StepNumber is the step the action was applied to.
	StepNumber int `json:"step_number,omitempty"`

	Notes   string         `json:"notes,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`

	// InstanceVersion is the instance version this entry commits.
	InstanceVersion int64 `json:"instance_version"`

	Timestamp time.Time `json:"timestamp"`

	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash"`
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	if e.Payload != nil {
		out.Payload = cloneMap(e.Payload)
	}
	return &out
}

// Query filters entries. Zero fields match everything.
type Query struct {
	InstanceID string
	TenantID   string
	Actor      string
	Action     string
	StartTime  *time.Time
	EndTime    *time.Time

	// Limit caps the result size; 0 means no limit.
	Limit  int
	Offset int
}

// Matches reports whether e satisfies the query filters.
func (q *Query) Matches(e *Entry) bool {
	if q == nil {
		return true
	}
	if q.InstanceID != "" && e.InstanceID != q.InstanceID {
		return false
	}
	if q.TenantID != "" && e.TenantID != q.TenantID {
		return false
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.StartTime != nil && e.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.Timestamp.After(*q.EndTime) {
		return false
	}
	return true
}

// Storage is an append-only audit store. Implementations must be safe for
// concurrent use and must reject a second entry with the same instance and
// sequence with ErrDuplicateSequence.
type Storage interface {
	// Append persists an entry.
	Append(ctx context.Context, entry *Entry) error

	// List returns entries ordered by timestamp, then instance and
	// sequence.
	List(ctx context.Context, query *Query) ([]*Entry, error)

	// Last returns the highest-sequence entry of an instance, or nil when
	// the instance has none.
	Last(ctx context.Context, instanceID string) (*Entry, error)

	// Close releases resources held by the backend.
	Close() error
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneMap(val)
		case []any:
			items := make([]any, len(val))
			copy(items, val)
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}
