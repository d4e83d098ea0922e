package conversation

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrInvariantViolation = errors.New("conversation history invariant violated")

// History is the ordered turn log of one session. When a system turn is present it is
// the first turn and the only one.
type History struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

func NewHistory() *History {
	return &History{now: time.Now}
}

// EnsureSystemPrompt inserts a system turn at position 0 unless one is already there.
func (h *History) EnsureSystemPrompt(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) > 0 && h.turns[0].Role == RoleSystem {
		return
	}
	system := NewTurn(RoleSystem, text, h.now())
	h.turns = append([]Turn{system}, h.turns...)
}

func (h *History) Append(t Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, t)
	h.mu.Unlock()
}

// Snapshot returns a copy that callers may modify freely.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.turns) == 0 {
		return []Turn{}
	}
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Replace swaps the whole sequence. A sequence whose system turn is misplaced or
// duplicated is rejected and the current history is kept.
func (h *History) Replace(turns []Turn) error {
	if err := Validate(turns); err != nil {
		return err
	}
	next := make([]Turn, len(turns))
	copy(next, turns)

	h.mu.Lock()
	h.turns = next
	h.mu.Unlock()
	return nil
}

func (h *History) Reset() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Validate checks the structural guarantees of a turn sequence.
func Validate(turns []Turn) error {
	for i, t := range turns {
		if !t.Role.Valid() {
			return errors.Wrapf(ErrInvariantViolation, "turn %d has unknown role %q", i, t.Role)
		}
		if t.Role == RoleSystem && i != 0 {
			return errors.Wrapf(ErrInvariantViolation, "system turn at position %d", i)
		}
	}
	return nil
}
