package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/m3rciful/qnabot/core/activity"
	"github.com/m3rciful/qnabot/core/dialog"
	"github.com/m3rciful/qnabot/core/dialogs"
	"github.com/m3rciful/qnabot/core/logger"
	"github.com/m3rciful/qnabot/core/state"
)

const defaultTurnTimeout = 15 * time.Second

// Texts are the user-facing messages the orchestrator sends itself.
type Texts struct {
	// Welcome is sent once per member added to a conversation.
	Welcome string
	// FirstWelcome is sent on a user's first message; "%s" becomes their name. Empty disables it.
	FirstWelcome string
	// Error replaces a failed turn's replies.
	Error string
}

// Options configure an Orchestrator.
type Options struct {
	Texts       Texts
	TurnTimeout time.Duration
	// MenuID is the dialog begun when none is active; defaults to the main menu.
	MenuID string
}

// Orchestrator handles turns. It is safe for concurrent use; turns of the
// same conversation are serialised.
type Orchestrator struct {
	dialogs *dialog.Set
	store   state.Store
	convs   *state.Accessor[ConversationState]
	users   *state.Accessor[UserState]
	texts   Texts
	menuID  string
	timeout time.Duration
	locks   *keyedMutex
}

// New validates opts against set and returns an orchestrator persisting into store.
func New(set *dialog.Set, store state.Store, opts Options) (*Orchestrator, error) {
	if set == nil || store == nil {
		return nil, fmt.Errorf("bot: dialog set and state store are required")
	}
	if opts.MenuID == "" {
		opts.MenuID = dialogs.MainMenuID
	}
	if _, ok := set.Find(opts.MenuID); !ok {
		return nil, fmt.Errorf("bot: menu dialog %q is not registered", opts.MenuID)
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	return &Orchestrator{
		dialogs: set,
		store:   store,
		convs:   state.NewAccessor[ConversationState](store, "conversation"),
		users:   state.NewAccessor[UserState](store, "user"),
		texts:   opts.Texts,
		menuID:  opts.MenuID,
		timeout: opts.TurnTimeout,
		locks:   newKeyedMutex(),
	}, nil
}

// ProcessTurn computes the replies for act and mutates conv and user in place.
// It does no I/O besides what dialog steps do; persistence is the caller's job.
func (o *Orchestrator) ProcessTurn(ctx context.Context, act activity.Activity, conv *ConversationState, user *UserState) ([]activity.Reply, error) {
	kind := activity.Classify(act)
	if kind == activity.TypeConversationUpdate {
		return welcomeReplies(act, o.texts.Welcome), nil
	}

	if err := o.dialogs.Validate(&conv.Dialogs); err != nil {
		logger.Warn(ctx, "bot", "stack.discard",
			slog.Int("depth", conv.Dialogs.Depth()),
			slog.String("err", err.Error()),
		)
		conv.Dialogs.Clear()
	}

	dc := o.dialogs.NewContext(&conv.Dialogs)
	var greeting []activity.Reply
	if dc.Active() != nil {
		if _, err := dc.Continue(ctx, act.Text); err != nil {
			return nil, err
		}
	} else {
		if kind == activity.TypeMessage && !user.DidWelcome {
			user.DidWelcome = true
			if text := firstGreeting(o.texts.FirstWelcome, act.From); text != "" {
				greeting = append(greeting, activity.Text(text))
			}
		}
		if _, err := dc.Begin(ctx, o.menuID, nil); err != nil {
			return nil, err
		}
	}
	return append(greeting, dc.Replies()...), nil
}

// HandleTurn runs one turn end to end: lock, load, process, persist, deliver.
// deliver, when set, receives the replies while the conversation is still
// locked, so consecutive turns reach the channel in order. On failure nothing
// is persisted and the replies are the apology, except when ctx itself was
// cancelled, in which case there are no replies.
func (o *Orchestrator) HandleTurn(ctx context.Context, act activity.Activity, deliver activity.Deliver) ([]activity.Reply, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	unlock, err := o.locks.Lock(ctx, act.ConversationKey())
	if err != nil {
		replies, err := o.fail(parent, ctx, &TurnError{Kind: classify(err), Op: "lock", Err: err})
		return replies, o.deliver(parent, deliver, replies, err)
	}
	defer unlock()

	replies, err := o.runLocked(parent, ctx, act)
	return replies, o.deliver(parent, deliver, replies, err)
}

func (o *Orchestrator) runLocked(parent, ctx context.Context, act activity.Activity) ([]activity.Reply, error) {
	start := time.Now()
	convKey := act.ConversationKey()

	conv, err := o.convs.Load(ctx, convKey)
	if err != nil {
		return o.fail(parent, ctx, storeError("load conversation", err))
	}
	user, err := o.users.Load(ctx, act.UserKey())
	if err != nil {
		return o.fail(parent, ctx, storeError("load user", err))
	}

	replies, err := o.safeProcess(ctx, act, &conv, &user)
	if err != nil {
		return o.fail(parent, ctx, err)
	}

	convEntry, err := o.convs.Entry(convKey, conv)
	if err != nil {
		return o.fail(parent, ctx, &TurnError{Kind: KindInternal, Op: "encode", Err: err})
	}
	userEntry, err := o.users.Entry(act.UserKey(), user)
	if err != nil {
		return o.fail(parent, ctx, &TurnError{Kind: KindInternal, Op: "encode", Err: err})
	}
	if err := o.store.SetMany(ctx, convEntry, userEntry); err != nil {
		return o.fail(parent, ctx, storeError("save", err))
	}

	top := ""
	if f := conv.Dialogs.Top(); f != nil {
		top = f.DialogID
	}
	logger.Info(ctx, "bot", "turn.done",
		slog.String("status", "ok"),
		slog.String("activity_type", string(activity.Classify(act))),
		slog.String("dialog_id", top),
		slog.Int("depth", conv.Dialogs.Depth()),
		slog.Int("replies", len(replies)),
		slog.Duration("duration_ms", logger.Took(start)),
	)
	return replies, nil
}

// deliver passes replies on and folds a delivery failure into the turn error.
// The turn's state is already persisted at this point.
func (o *Orchestrator) deliver(ctx context.Context, deliver activity.Deliver, replies []activity.Reply, turnErr error) error {
	if deliver == nil || len(replies) == 0 {
		return turnErr
	}
	err := deliver(ctx, replies)
	if err == nil {
		return turnErr
	}
	logger.Warn(ctx, "bot", "turn.deliver",
		slog.String("status", "fail"),
		slog.Int("replies", len(replies)),
		slog.String("err", err.Error()),
	)
	if turnErr != nil {
		return turnErr
	}
	return &TurnError{Kind: KindDelivery, Op: "deliver", Err: err}
}

func (o *Orchestrator) safeProcess(ctx context.Context, act activity.Activity, conv *ConversationState, user *UserState) (replies []activity.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "bot", "turn.panic",
				slog.Any("err", r),
				slog.String("cause", logger.SanitizeLimit(string(debug.Stack()), 2048)),
			)
			replies = nil
			err = &TurnError{Kind: KindPanic, Op: "process", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	replies, err = o.ProcessTurn(ctx, act, conv, user)
	if err != nil {
		var te *TurnError
		if !errors.As(err, &te) {
			err = &TurnError{Kind: classify(err), Op: "process", Err: err}
		}
	}
	return replies, err
}

func (o *Orchestrator) fail(parent, ctx context.Context, err error) ([]activity.Reply, error) {
	var te *TurnError
	if !errors.As(err, &te) {
		te = &TurnError{Kind: classify(err), Err: err}
	}
	if parent.Err() != nil {
		te.Kind = KindCancelled
		logger.Warn(ctx, "bot", "turn.cancelled",
			slog.String("status", "fail"),
			slog.String("err", te.Error()),
			slog.String("err_kind", string(te.Kind)),
		)
		return nil, te
	}
	logger.Error(ctx, "bot", "turn.failed",
		slog.String("status", "fail"),
		slog.String("err", te.Error()),
		slog.String("err_kind", string(te.Kind)),
	)
	if strings.TrimSpace(o.texts.Error) == "" {
		return nil, te
	}
	return []activity.Reply{activity.Text(o.texts.Error)}, te
}

func storeError(op string, err error) error {
	kind := KindStore
	if k := classify(err); k == KindTimeout || k == KindCancelled {
		kind = k
	}
	return &TurnError{Kind: kind, Op: op, Err: err}
}
