package dialog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/qnabot/core/activity"
	"github.com/m3rciful/qnabot/core/logger"
)

// maxStepsPerTurn bounds how many steps one turn may run before it must suspend.
const maxStepsPerTurn = 64

// Status reports how a turn left the stack.
type Status int

const (
	// StatusWaiting means the top frame suspended on a prompt.
	StatusWaiting Status = iota + 1
	// StatusComplete means the last frame ended and the stack is empty.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusComplete:
		return "complete"
	}
	return "unknown"
}

// Result is what Begin, Continue, Replace and End return.
type Result struct {
	Status Status
	// Value is the end value of the outermost dialog when Status is StatusComplete.
	Value any
}

// StepContext is handed to every step.
type StepContext struct {
	// DialogID and Index locate the running step.
	DialogID string
	Index    int
	// Result is the previous step's value, the validated prompt answer, or a child's end value.
	Result any
	// State is the frame's private data, seeded from the options passed on begin.
	State map[string]any

	dc *Context
}

// Send queues a reply for the current turn.
func (sc *StepContext) Send(r activity.Reply) {
	sc.dc.replies = append(sc.dc.replies, r)
}

// SendText queues a plain text reply for the current turn.
func (sc *StepContext) SendText(text string) {
	sc.Send(activity.Text(text))
}

// Context drives a stack through one turn and collects the replies it produces.
type Context struct {
	set     *Set
	stack   *Stack
	replies []activity.Reply
	steps   int
}

// Stack exposes the stack bound to this context.
func (dc *Context) Stack() *Stack {
	return dc.stack
}

// Active returns the top frame, or nil when no dialog is running.
func (dc *Context) Active() *Frame {
	return dc.stack.Top()
}

// Replies returns the replies queued so far, in order.
func (dc *Context) Replies() []activity.Reply {
	return append([]activity.Reply(nil), dc.replies...)
}

// Begin pushes a new frame of id and runs it until it suspends or the stack empties.
func (dc *Context) Begin(ctx context.Context, id string, options map[string]any) (Result, error) {
	if _, ok := dc.set.Find(id); !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownDialog, id)
	}
	dc.stack.push(newFrame(id, options))
	logger.Debug(ctx, "dialog", "dialog.begin",
		slog.String("dialog_id", id),
		slog.Int("depth", dc.stack.Depth()),
	)
	return dc.run(ctx, nil)
}

// Continue feeds text to the top frame. A pending prompt validates it first;
// invalid input re-issues the prompt and leaves the frame where it was.
func (dc *Context) Continue(ctx context.Context, text string) (Result, error) {
	top := dc.stack.Top()
	if top == nil {
		return Result{}, ErrNoActiveDialog
	}
	if !top.Awaiting || top.Prompt == nil {
		return dc.run(ctx, text)
	}

	value, ok := top.Prompt.Recognize(text)
	if !ok {
		logger.Debug(ctx, "dialog", "prompt.retry",
			slog.String("dialog_id", top.DialogID),
			slog.Int("step", top.Step),
			slog.String("payload", logger.SanitizeLimit(text, 128)),
		)
		dc.emitPrompt(*top.Prompt, true)
		return Result{Status: StatusWaiting}, nil
	}
	top.Awaiting = false
	top.Prompt = nil
	top.Step++
	return dc.run(ctx, value)
}

// Replace swaps the top frame for a fresh frame of id and runs it.
func (dc *Context) Replace(ctx context.Context, id string, options map[string]any) (Result, error) {
	if dc.stack.Empty() {
		return Result{}, ErrNoActiveDialog
	}
	if err := dc.replace(ctx, id, options); err != nil {
		return Result{}, err
	}
	return dc.run(ctx, nil)
}

// End pops the top frame and resumes its parent with value.
func (dc *Context) End(ctx context.Context, value any) (Result, error) {
	if dc.stack.Empty() {
		return Result{}, ErrNoActiveDialog
	}
	dc.endTop(ctx)
	return dc.run(ctx, value)
}

func (dc *Context) run(ctx context.Context, value any) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		top := dc.stack.Top()
		if top == nil {
			return Result{Status: StatusComplete, Value: value}, nil
		}
		d, ok := dc.set.Find(top.DialogID)
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrUnknownDialog, top.DialogID)
		}
		if top.Step >= len(d.Steps) {
			// Falling off the end of a waterfall ends it with the last value.
			dc.endTop(ctx)
			continue
		}

		dc.steps++
		if dc.steps > maxStepsPerTurn {
			return Result{}, fmt.Errorf("%w: %d steps in one turn (top %s)", ErrStepLimit, maxStepsPerTurn, top.DialogID)
		}

		sc := &StepContext{
			DialogID: d.ID,
			Index:    top.Step,
			Result:   value,
			State:    top.State,
			dc:       dc,
		}
		if sc.State == nil {
			sc.State = make(map[string]any)
		}
		out, err := d.Steps[top.Step](logger.WithDialog(ctx, d.ID), sc)
		if err != nil {
			return Result{}, fmt.Errorf("dialog %s step %d: %w", d.ID, top.Step, err)
		}
		// Steps may have written to State; keep it on the frame.
		top = dc.stack.Top()
		if len(sc.State) > 0 {
			top.State = sc.State
		}

		logger.Debug(ctx, "dialog", "dialog.step",
			slog.String("dialog_id", d.ID),
			slog.Int("step", sc.Index),
			slog.String("outcome", out.kind.String()),
			slog.String("target", out.dialogID),
			slog.Int("depth", dc.stack.Depth()),
		)

		switch out.kind {
		case kindPrompt:
			p := out.prompt
			top.Awaiting = true
			top.Prompt = &p
			dc.emitPrompt(p, false)
			return Result{Status: StatusWaiting}, nil
		case kindNext:
			top.Step++
			value = out.value
		case kindEnd:
			dc.endTop(ctx)
			value = out.value
		case kindReplace:
			if err := dc.replace(ctx, out.dialogID, out.options); err != nil {
				return Result{}, err
			}
			value = nil
		case kindBegin:
			if _, ok := dc.set.Find(out.dialogID); !ok {
				return Result{}, fmt.Errorf("%w: %s", ErrUnknownDialog, out.dialogID)
			}
			dc.stack.push(newFrame(out.dialogID, out.options))
			value = nil
		default:
			return Result{}, fmt.Errorf("%w: dialog %s step %d", ErrInvalidOutcome, d.ID, sc.Index)
		}
	}
}

func (dc *Context) replace(ctx context.Context, id string, options map[string]any) error {
	if _, ok := dc.set.Find(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDialog, id)
	}
	old := dc.stack.Top().DialogID
	dc.stack.pop()
	dc.stack.push(newFrame(id, options))
	logger.Debug(ctx, "dialog", "dialog.replace",
		slog.String("dialog_id", id),
		slog.String("cause", old),
		slog.Int("depth", dc.stack.Depth()),
	)
	return nil
}

// endTop pops the top frame and moves the parent, if any, past the step that began it.
func (dc *Context) endTop(ctx context.Context) {
	ended := dc.stack.Top().DialogID
	dc.stack.pop()
	if parent := dc.stack.Top(); parent != nil {
		parent.Step++
	}
	logger.Debug(ctx, "dialog", "dialog.end",
		slog.String("dialog_id", ended),
		slog.Int("depth", dc.stack.Depth()),
	)
}

func (dc *Context) emitPrompt(p PromptSpec, retry bool) {
	text := p.Text
	if retry && p.Retry != "" {
		text = p.Retry
	}
	dc.replies = append(dc.replies, activity.Reply{
		Text:        text,
		Choices:     append([]string(nil), p.Choices...),
		ExpectsText: p.Kind != PromptChoice,
	})
}
