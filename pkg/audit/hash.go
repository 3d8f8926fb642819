package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for hashing and storage, so
// the stored text sorts chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// hashedEntry fixes the field set and order covered by the hash.
type hashedEntry struct {
	ID              string         `json:"id"`
	InstanceID      string         `json:"instance_id"`
	TenantID        string         `json:"tenant_id"`
	Sequence        int64          `json:"sequence"`
	Actor           string         `json:"actor"`
	Action          string         `json:"action"`
	PreviousStatus  string         `json:"previous_status"`
	NewStatus       string         `json:"new_status"`
	PreviousStep    int            `json:"previous_step"`
	NewStep         int            `json:"new_step"`
	StepNumber      int            `json:"step_number"`
	Notes           string         `json:"notes"`
	Payload         map[string]any `json:"payload"`
	InstanceVersion int64          `json:"instance_version"`
	Timestamp       string         `json:"timestamp"`
	PrevHash        string         `json:"prev_hash"`
}

// ComputeHash returns the hex SHA-256 of the entry's canonical JSON form.
// The Hash field itself is excluded.
func ComputeHash(e *Entry) (string, error) {
	data, err := json.Marshal(hashedEntry{
		ID:              e.ID,
		InstanceID:      e.InstanceID,
		TenantID:        e.TenantID,
		Sequence:        e.Sequence,
		Actor:           e.Actor,
		Action:          e.Action,
		PreviousStatus:  e.PreviousStatus,
		NewStatus:       e.NewStatus,
		PreviousStep:    e.PreviousStep,
		NewStep:         e.NewStep,
		StepNumber:      e.StepNumber,
		Notes:           e.Notes,
		Payload:         e.Payload,
		InstanceVersion: e.InstanceVersion,
		Timestamp:       FormatTime(e.Timestamp),
		PrevHash:        e.PrevHash,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
