package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/evalctx"
	"mercator-hq/gatekeeper/pkg/rules/ast"
)

// IdempotencyLedger remembers applied action keys.
type IdempotencyLedger interface {
	// Claim records key and reports whether it was new.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets a claimed key whose application failed.
	Release(ctx context.Context, key string) error
}

// IdempotencyKey identifies one application of a rule action to a context.
func IdempotencyKey(ruleID string, action ast.Action, evalCtx evalctx.Context) string {
	h := sha256.New()
	for _, part := range []string{ruleID, action.Verb.String(), action.Target, evalCtx.Digest()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryLedger is an in-process IdempotencyLedger. Keys older than the TTL
// are forgotten; a zero TTL keeps keys forever.
type MemoryLedger struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		keys: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (l *MemoryLedger) Claim(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.ttl > 0 {
		for k, at := range l.keys {
			if now.Sub(at) >= l.ttl {
				delete(l.keys, k)
			}
		}
	}
	if _, ok := l.keys[key]; ok {
		return false, nil
	}
	l.keys[key] = now
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
	return nil
}

// Len returns the number of remembered keys.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
