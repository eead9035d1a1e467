package dialog

import (
	"fmt"
	"strings"
	"sync"
)

// Set is the registry of dialogs a stack may reference.
type Set struct {
	mu      sync.RWMutex
	dialogs map[string]Dialog
	order   []string
}

// NewSet registers dialogs in order.
func NewSet(dialogs ...Dialog) (*Set, error) {
	s := &Set{dialogs: make(map[string]Dialog, len(dialogs))}
	for _, d := range dialogs {
		if err := s.Add(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers d. Ids must be unique and every dialog needs at least one step.
func (s *Set) Add(d Dialog) error {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return fmt.Errorf("dialog: empty dialog id")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("dialog: %q has no steps", id)
	}
	for i, st := range d.Steps {
		if st == nil {
			return fmt.Errorf("dialog: %q step %d is nil", id, i)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dialogs[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDialog, id)
	}
	d.ID = id
	s.dialogs[id] = d
	s.order = append(s.order, id)
	return nil
}

// Find returns the dialog registered under id.
func (s *Set) Find(id string) (Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dialogs[id]
	return d, ok
}

// IDs lists registered ids in registration order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Validate checks that a stack loaded from storage can be resumed against this set.
func (s *Set) Validate(stack *Stack) error {
	if stack == nil {
		return nil
	}
	for i, f := range stack.Frames {
		d, ok := s.Find(f.DialogID)
		if !ok {
			return fmt.Errorf("%w: frame %d references %q", ErrUnknownDialog, i, f.DialogID)
		}
		if f.Step < 0 || f.Step >= len(d.Steps) {
			return fmt.Errorf("%w: frame %d (%s) step %d out of range", ErrCorruptFrame, i, f.DialogID, f.Step)
		}
		if f.Awaiting && f.Prompt == nil {
			return fmt.Errorf("%w: frame %d (%s) awaits input without a prompt", ErrCorruptFrame, i, f.DialogID)
		}
	}
	return nil
}

// NewContext binds stack to this set for the duration of one turn.
func (s *Set) NewContext(stack *Stack) *Context {
	if stack == nil {
		stack = &Stack{}
	}
	return &Context{set: s, stack: stack}
}
