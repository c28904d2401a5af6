package state

import (
	"sync"
	"time"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
)

// ConversationMemory is the ordered, append-only record of one session's
// exchanges. Readers always receive copies.
type ConversationMemory struct {
	mu        sync.RWMutex
	exchanges []contractx.Exchange
	now       func() time.Time
}

func NewConversationMemory() *ConversationMemory {
	return &ConversationMemory{now: time.Now}
}

// Append records one finished turn.
func (m *ConversationMemory) Append(ex contractx.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex.At.IsZero() {
		ex.At = m.now().UTC()
	}
	ex.Notes = cloneSteps(ex.Notes)
	m.exchanges = append(m.exchanges, ex)
}

func (m *ConversationMemory) History() []contractx.Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]contractx.Exchange, len(m.exchanges))
	for i, ex := range m.exchanges {
		ex.Notes = cloneSteps(ex.Notes)
		out[i] = ex
	}
	return out
}

// Recent returns at most n of the latest exchanges, oldest first. A
// non-positive n returns everything.
func (m *ConversationMemory) Recent(n int) []contractx.Exchange {
	all := m.History()
	if n <= 0 || len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

func (m *ConversationMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.exchanges)
}

/* ----------------------------- helpers ----------------------------- */

func cloneSteps(steps []contractx.Step) []contractx.Step {
	if steps == nil {
		return nil
	}
	out := make([]contractx.Step, len(steps))
	copy(out, steps)
	return out
}
