// Package dialog implements a waterfall dialog engine: a registry of named
// step sequences and a per-conversation stack of frames that survives between
// turns as plain JSON.
package dialog

import (
	"context"
	"errors"
)

var (
	// ErrNoActiveDialog is returned when continuing, replacing or ending on an empty stack.
	ErrNoActiveDialog = errors.New("dialog: no active dialog")
	// ErrUnknownDialog is returned when a frame or outcome names an unregistered dialog.
	ErrUnknownDialog = errors.New("dialog: unknown dialog")
	// ErrDuplicateDialog is returned when registering an id twice.
	ErrDuplicateDialog = errors.New("dialog: duplicate dialog id")
	// ErrStepLimit is returned when a single turn runs too many steps without suspending.
	ErrStepLimit = errors.New("dialog: step limit exceeded")
	// ErrInvalidOutcome is returned when a step returns a zero Outcome.
	ErrInvalidOutcome = errors.New("dialog: invalid step outcome")
	// ErrCorruptFrame is returned by Validate for frames that cannot be resumed.
	ErrCorruptFrame = errors.New("dialog: corrupt frame")
)

// PromptKind selects how a prompt validates the user's next input.
type PromptKind string

const (
	// PromptText accepts any non-empty text.
	PromptText PromptKind = "text"
	// PromptChoice accepts exactly one of the listed choices.
	PromptChoice PromptKind = "choice"
)

// PromptSpec describes a suspension point waiting for user input.
type PromptSpec struct {
	Kind    PromptKind `json:"kind"`
	Text    string     `json:"text"`
	Retry   string     `json:"retry,omitempty"`
	Choices []string   `json:"choices,omitempty"`
}

// TextPrompt asks for free text.
func TextPrompt(text string) PromptSpec {
	return PromptSpec{Kind: PromptText, Text: text}
}

// ChoicePrompt asks the user to pick one of choices; retry is sent on invalid input.
func ChoicePrompt(text, retry string, choices ...string) PromptSpec {
	return PromptSpec{
		Kind:    PromptChoice,
		Text:    text,
		Retry:   retry,
		Choices: append([]string(nil), choices...),
	}
}

// FoundChoice is the value a choice prompt hands to the next step.
type FoundChoice struct {
	Value string
	Index int
}

// Recognize validates input against the prompt. Choices match by exact,
// case-sensitive equality; text prompts accept any non-empty text.
func (p PromptSpec) Recognize(input string) (any, bool) {
	switch p.Kind {
	case PromptChoice:
		for i, c := range p.Choices {
			if c == input {
				return FoundChoice{Value: c, Index: i}, true
			}
		}
		return nil, false
	default:
		if input == "" {
			return nil, false
		}
		return input, true
	}
}

// Frame is one level of the dialog stack.
type Frame struct {
	DialogID string         `json:"dialog_id"`
	Step     int            `json:"step"`
	State    map[string]any `json:"state,omitempty"`
	Awaiting bool           `json:"awaiting,omitempty"`
	Prompt   *PromptSpec    `json:"prompt,omitempty"`
}

func newFrame(id string, options map[string]any) Frame {
	f := Frame{DialogID: id}
	if len(options) > 0 {
		f.State = make(map[string]any, len(options))
		for k, v := range options {
			f.State[k] = v
		}
	}
	return f
}

// Stack is the ordered list of active frames; the last frame is on top.
type Stack struct {
	Frames []Frame `json:"frames,omitempty"`
}

// Depth returns the number of frames on the stack.
func (s Stack) Depth() int {
	return len(s.Frames)
}

// Empty reports whether no dialog is active.
func (s Stack) Empty() bool {
	return s.Depth() == 0
}

// Top returns the active frame or nil. The frame aliases the stack's backing array.
func (s Stack) Top() *Frame {
	if s.Empty() {
		return nil
	}
	return &s.Frames[len(s.Frames)-1]
}

// Clear drops every frame.
func (s *Stack) Clear() {
	s.Frames = nil
}

func (s *Stack) push(f Frame) {
	s.Frames = append(s.Frames, f)
}

func (s *Stack) pop() {
	if s.Empty() {
		return
	}
	s.Frames[len(s.Frames)-1] = Frame{}
	s.Frames = s.Frames[:len(s.Frames)-1]
	if len(s.Frames) == 0 {
		s.Frames = nil
	}
}

// Step is one function of a waterfall.
type Step func(ctx context.Context, sc *StepContext) (Outcome, error)

// Dialog is a named, ordered list of steps.
type Dialog struct {
	ID    string
	Steps []Step
}

type outcomeKind int

const (
	kindNone outcomeKind = iota
	kindPrompt
	kindNext
	kindEnd
	kindReplace
	kindBegin
)

func (k outcomeKind) String() string {
	switch k {
	case kindPrompt:
		return "prompt"
	case kindNext:
		return "next"
	case kindEnd:
		return "end"
	case kindReplace:
		return "replace"
	case kindBegin:
		return "begin"
	}
	return "none"
}

// Outcome tells the engine what to do after a step. Build it with Prompt,
// Next, End, Replace or Begin.
type Outcome struct {
	kind     outcomeKind
	prompt   PromptSpec
	value    any
	dialogID string
	options  map[string]any
}

// Prompt suspends the dialog until the user answers p.
func Prompt(p PromptSpec) Outcome {
	return Outcome{kind: kindPrompt, prompt: p}
}

// Next advances to the following step in the same turn, passing value.
func Next(value any) Outcome {
	return Outcome{kind: kindNext, value: value}
}

// End pops the current frame and resumes its parent with value.
func End(value any) Outcome {
	return Outcome{kind: kindEnd, value: value}
}

// Replace swaps the current frame for a fresh instance of id.
func Replace(id string, options map[string]any) Outcome {
	return Outcome{kind: kindReplace, dialogID: id, options: options}
}

// Begin pushes a child dialog; the current frame resumes at its next step when the child ends.
func Begin(id string, options map[string]any) Outcome {
	return Outcome{kind: kindBegin, dialogID: id, options: options}
}

// String names the outcome kind for logs and test failures.
func (o Outcome) String() string {
	if o.dialogID != "" {
		return o.kind.String() + ":" + o.dialogID
	}
	return o.kind.String()
}
