package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/internal/keylock"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
)

// Recorder appends hash-chained entries to a Storage.
type Recorder struct {
	storage Storage
	locks   *keylock.Striped
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder over storage. collector may be nil.
func NewRecorder(storage Storage, collector *metrics.Collector, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		storage: storage,
		locks:   keylock.New(keylock.DefaultStripes),
		metrics: collector,
		logger:  logger.With("component", "audit.recorder"),
		now:     time.Now,
	}
}

// Record completes entry (ID, sequence, timestamp and hashes) and appends it.
// Appends for the same instance are serialized. The stored entry is
// returned; entry itself is not modified.
func (r *Recorder) Record(ctx context.Context, entry *Entry) (*Entry, error) {
	if entry == nil || entry.InstanceID == "" {
		return nil, fmt.Errorf("audit entry requires an instance id")
	}

	unlock := r.locks.Lock(entry.InstanceID)
	defer unlock()

	e := entry.Clone()
	if len(e.Payload) == 0 {
		e.Payload = nil
	}
	e.ID = uuid.New().String()
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Nanosecond)

	last, err := r.storage.Last(ctx, e.InstanceID)
	if err != nil {
		r.metrics.RecordAuditAppend("error")
		return nil, err
	}
	e.Sequence = 1
	e.PrevHash = ""
	if last != nil {
		e.Sequence = last.Sequence + 1
		e.PrevHash = last.Hash
	}

	e.Hash, err = ComputeHash(e)
	if err != nil {
		r.metrics.RecordAuditAppend("error")
		return nil, fmt.Errorf("failed to hash audit entry: %w", err)
	}

	if err := r.storage.Append(ctx, e); err != nil {
		r.metrics.RecordAuditAppend("error")
		return nil, err
	}
	r.metrics.RecordAuditAppend("success")

	r.logger.DebugContext(ctx, "audit entry recorded",
		"instance_id", e.InstanceID,
		"sequence", e.Sequence,
		"action", e.Action,
		"actor", e.Actor,
	)
	return e.Clone(), nil
}

// History returns an instance's entries in sequence order.
func (r *Recorder) History(ctx context.Context, instanceID string) ([]*Entry, error) {
	entries, err := r.storage.List(ctx, &Query{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	sortBySequence(entries)
	return entries, nil
}

// List returns entries matching q.
func (r *Recorder) List(ctx context.Context, q *Query) ([]*Entry, error) {
	return r.storage.List(ctx, q)
}

// Verify recomputes an instance's hash chain. It returns a *TamperError
// describing the first inconsistency, or nil when the chain is intact.
func (r *Recorder) Verify(ctx context.Context, instanceID string) error {
	entries, err := r.History(ctx, instanceID)
	if err != nil {
		return err
	}

	prevHash := ""
	for i, e := range entries {
		want := int64(i + 1)
		if e.Sequence != want {
			return &TamperError{InstanceID: instanceID, Sequence: want, EntryID: e.ID,
				Reason: fmt.Sprintf("found sequence %d", e.Sequence)}
		}
		if e.PrevHash != prevHash {
			return &TamperError{InstanceID: instanceID, Sequence: e.Sequence, EntryID: e.ID,
				Reason: "previous hash does not match"}
		}
		sum, err := ComputeHash(e)
		if err != nil {
			return fmt.Errorf("failed to hash audit entry %s: %w", e.ID, err)
		}
		if sum != e.Hash {
			return &TamperError{InstanceID: instanceID, Sequence: e.Sequence, EntryID: e.ID,
				Reason: "content hash does not match"}
		}
		prevHash = e.Hash
	}
	return nil
}

// Storage returns the underlying store.
func (r *Recorder) Storage() Storage {
	return r.storage
}

func sortBySequence(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Sequence < entries[j].Sequence
	})
}
