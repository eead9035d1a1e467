package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/qnabot/core/activity"
	"github.com/m3rciful/qnabot/core/dialog"
	"github.com/m3rciful/qnabot/core/dialogs"
	"github.com/m3rciful/qnabot/core/qna"
	"github.com/m3rciful/qnabot/core/state"
)

const (
	menuPrompt = "What would you like to ask about?"
	menuRetry  = "I'm sorry, that wasn't a valid response. Please select one of the options"
	welcome    = "Hello, I'm the support bot!"
	apology    = "Sorry, it looks like something went wrong."
	noAnswer   = "Sorry, I don't know the answer to that one."
	failure    = "Lookup failed."
	botID      = "bot"
)

type mockQnA struct {
	mu      sync.Mutex
	answers map[string][]qna.Answer
	err     error
	block   chan struct{}
}

func (m *mockQnA) GetAnswers(ctx context.Context, question string) ([]qna.Answer, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.answers[question], nil
}

// flakyStore fails the selected operations on demand.
type flakyStore struct {
	state.Store
	failGet bool
	failSet bool
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errors.New("store unreachable")
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) SetMany(ctx context.Context, entries ...state.Entry) error {
	if f.failSet {
		return errors.New("store unreachable")
	}
	return f.Store.SetMany(ctx, entries...)
}

type fixture struct {
	orch  *Orchestrator
	store *flakyStore
	qnas  []*mockQnA
}

func newFixture(t *testing.T, firstWelcome string) *fixture {
	t.Helper()
	f := &fixture{store: &flakyStore{Store: state.NewMemoryStore()}}
	labels := []string{"Announcements", "Redmine", "Company info"}
	cats := make([]dialogs.Category, len(labels))
	for i, l := range labels {
		m := &mockQnA{answers: map[string][]qna.Answer{}}
		f.qnas = append(f.qnas, m)
		cats[i] = dialogs.Category{
			Label:    l,
			DialogID: fmt.Sprintf("faq%dDialog", i+1),
			Client:   m,
			Texts:    dialogs.FAQTexts{Prompt: "Ask your question.", NoAnswer: noAnswer, Failure: failure},
		}
	}
	set, err := dialogs.NewSet(dialogs.MenuTexts{Prompt: menuPrompt, Retry: menuRetry}, cats)
	require.NoError(t, err)

	f.orch, err = New(set, f.store, Options{
		Texts:       Texts{Welcome: welcome, FirstWelcome: firstWelcome, Error: apology},
		TurnTimeout: time.Second,
	})
	require.NoError(t, err)
	return f
}

func message(conv, user, text string) activity.Activity {
	return activity.Activity{
		ID:           "m-" + text,
		Type:         activity.TypeMessage,
		ChannelID:    "test",
		Text:         text,
		From:         activity.Identity{ID: user, Name: "Taro"},
		Recipient:    activity.Identity{ID: botID},
		Conversation: activity.Identity{ID: conv},
	}
}

func texts(replies []activity.Reply) []string {
	out := make([]string, 0, len(replies))
	for _, r := range replies {
		out = append(out, r.Text)
	}
	return out
}

func (f *fixture) say(t *testing.T, conv, user, text string) []string {
	t.Helper()
	replies, err := f.orch.HandleTurn(context.Background(), message(conv, user, text), nil)
	require.NoError(t, err)
	return texts(replies)
}

func (f *fixture) stack(t *testing.T, conv string) dialog.Stack {
	t.Helper()
	raw, ok, err := f.store.Get(context.Background(), "conversation/test/"+conv)
	require.NoError(t, err)
	if !ok {
		return dialog.Stack{}
	}
	var cs ConversationState
	require.NoError(t, json.Unmarshal(raw, &cs))
	return cs.Dialogs
}

func (f *fixture) user(t *testing.T, user string) UserState {
	t.Helper()
	raw, ok, err := f.store.Get(context.Background(), "user/test/"+user)
	require.NoError(t, err)
	if !ok {
		return UserState{}
	}
	var us UserState
	require.NoError(t, json.Unmarshal(raw, &us))
	return us
}

// requireMenuAtBase checks the stack shape every completed turn must leave.
func requireMenuAtBase(t *testing.T, s dialog.Stack) {
	t.Helper()
	require.NotZero(t, s.Depth())
	require.LessOrEqual(t, s.Depth(), 2)
	require.Equal(t, dialogs.MainMenuID, s.Frames[0].DialogID)
	require.True(t, s.Top().Awaiting)
}

func TestScenario(t *testing.T) {
	f := newFixture(t, "")
	f.qnas[1].answers["How do I reset my password?"] = []qna.Answer{{ID: 7, Text: "Use the 'Lost password' link.", Score: 0.92}}

	join := activity.Activity{
		Type:         activity.TypeConversationUpdate,
		ChannelID:    "test",
		Recipient:    activity.Identity{ID: botID},
		Conversation: activity.Identity{ID: "c1"},
		From:         activity.Identity{ID: "u1"},
		MembersAdded: []activity.Identity{{ID: botID}, {ID: "u1"}},
	}
	replies, err := f.orch.HandleTurn(context.Background(), join, nil)
	require.NoError(t, err)
	require.Equal(t, []string{welcome}, texts(replies))
	require.True(t, f.stack(t, "c1").Empty())

	require.Equal(t, []string{menuPrompt}, f.say(t, "c1", "u1", "hi"))
	require.True(t, f.user(t, "u1").DidWelcome)

	require.Equal(t, []string{"Ask your question."}, f.say(t, "c1", "u1", "Redmine"))
	s := f.stack(t, "c1")
	require.Equal(t, 2, s.Depth())
	require.Equal(t, "faq2Dialog", s.Top().DialogID)

	require.Equal(t,
		[]string{"Use the 'Lost password' link.", menuPrompt},
		f.say(t, "c1", "u1", "How do I reset my password?"),
	)
	s = f.stack(t, "c1")
	require.Equal(t, 1, s.Depth())
	require.Equal(t, dialogs.MainMenuID, s.Top().DialogID)
}

func TestWelcomeOnce(t *testing.T) {
	f := newFixture(t, "Nice to meet you, %s!")

	require.Equal(t, []string{"Nice to meet you, Taro!", menuPrompt}, f.say(t, "c1", "u1", "hello"))
	require.True(t, f.user(t, "u1").DidWelcome)

	// Finish the menu loop and start a new conversation: no second greeting.
	f.say(t, "c1", "u1", "Redmine")
	f.say(t, "c1", "u1", "anything")
	require.Equal(t, []string{menuPrompt}, f.say(t, "c2", "u1", "hello again"))
	require.True(t, f.user(t, "u1").DidWelcome)
}

func TestWelcomeNotSetByNonMessage(t *testing.T) {
	f := newFixture(t, "Hi %s")
	act := message("c1", "u1", "")
	act.Type = activity.TypeOther
	replies, err := f.orch.HandleTurn(context.Background(), act, nil)
	require.NoError(t, err)
	require.Equal(t, []string{menuPrompt}, texts(replies))
	require.False(t, f.user(t, "u1").DidWelcome)
}

func TestConversationUpdateSkipsBot(t *testing.T) {
	f := newFixture(t, "")
	act := activity.Activity{
		Type:         activity.TypeConversationUpdate,
		ChannelID:    "test",
		Recipient:    activity.Identity{ID: botID},
		Conversation: activity.Identity{ID: "g1"},
		MembersAdded: []activity.Identity{{ID: "a"}, {ID: botID}, {ID: "b"}},
	}
	replies, err := f.orch.HandleTurn(context.Background(), act, nil)
	require.NoError(t, err)
	require.Equal(t, []string{welcome, welcome}, texts(replies))

	act.MembersAdded = []activity.Identity{{ID: botID}}
	replies, err = f.orch.HandleTurn(context.Background(), act, nil)
	require.NoError(t, err)
	require.Empty(t, replies)
}

func TestStackInvariantAcrossTurns(t *testing.T) {
	f := newFixture(t, "")
	inputs := []string{"hi", "nope", "Announcements", "q1", "Company info", "q2", "bad", "Redmine", "q3"}
	for _, in := range inputs {
		f.say(t, "c1", "u1", in)
		requireMenuAtBase(t, f.stack(t, "c1"))
	}
}

func TestMenuLoopRepeats(t *testing.T) {
	f := newFixture(t, "")
	f.say(t, "c1", "u1", "hi")
	for i := 0; i < 4; i++ {
		require.Equal(t, []string{"Ask your question."}, f.say(t, "c1", "u1", "Announcements"))
		require.Equal(t, []string{noAnswer, menuPrompt}, f.say(t, "c1", "u1", fmt.Sprintf("question %d", i)))
		s := f.stack(t, "c1")
		require.Equal(t, 1, s.Depth())
		require.Equal(t, 0, s.Top().Step)
	}
}

func TestInvalidChoiceRetried(t *testing.T) {
	f := newFixture(t, "")
	f.say(t, "c1", "u1", "hi")
	before := f.stack(t, "c1")
	for _, bad := range []string{"redmine", "4", "Redmine "} {
		require.Equal(t, []string{menuRetry}, f.say(t, "c1", "u1", bad))
		require.Equal(t, before, f.stack(t, "c1"))
	}
}

func TestQnAFailureFallsBack(t *testing.T) {
	f := newFixture(t, "")
	f.qnas[2].err = errors.New("503 service unavailable")
	f.say(t, "c1", "u1", "hi")
	f.say(t, "c1", "u1", "Company info")
	require.Equal(t, []string{failure, menuPrompt}, f.say(t, "c1", "u1", "where is the office?"))
	requireMenuAtBase(t, f.stack(t, "c1"))
}

func TestConversationIsolation(t *testing.T) {
	f := newFixture(t, "")
	f.qnas[0].answers["a?"] = []qna.Answer{{ID: 1, Text: "answer a", Score: 0.9}}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		conv := fmt.Sprintf("c%d", i)
		user := fmt.Sprintf("u%d", i)
		g.Go(func() error {
			steps := []struct{ in, want string }{
				{"hi", menuPrompt},
				{"Announcements", "Ask your question."},
				{"a?", "answer a"},
			}
			for _, s := range steps {
				replies, err := f.orch.HandleTurn(context.Background(), message(conv, user, s.in), nil)
				if err != nil {
					return err
				}
				if len(replies) == 0 || replies[0].Text != s.want {
					return fmt.Errorf("%s: %q -> %v", conv, s.in, texts(replies))
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// A turn in one conversation leaves the others untouched.
	f.say(t, "c0", "u0", "Redmine")
	require.Equal(t, "faq2Dialog", f.stack(t, "c0").Top().DialogID)
	for i := 1; i < 8; i++ {
		s := f.stack(t, fmt.Sprintf("c%d", i))
		require.Equal(t, 1, s.Depth())
		require.Equal(t, dialogs.MainMenuID, s.Top().DialogID)
	}
}

func TestSameConversationTurnsAreSerialised(t *testing.T) {
	f := newFixture(t, "")
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.orch.HandleTurn(context.Background(), message("shared", "u1", "junk"), nil)
			return err
		})
	}
	require.NoError(t, g.Wait())
	requireMenuAtBase(t, f.stack(t, "shared"))
	require.Zero(t, f.orch.locks.size())
}

func TestStoreFailureApologisesWithoutPersisting(t *testing.T) {
	f := newFixture(t, "")
	f.say(t, "c1", "u1", "hi")
	before := f.stack(t, "c1")

	f.store.failSet = true
	replies, err := f.orch.HandleTurn(context.Background(), message("c1", "u1", "Redmine"), nil)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	require.Equal(t, KindStore, te.Kind)
	require.Equal(t, "STATE_STORE", te.Code())
	require.Equal(t, []string{apology}, texts(replies))
	f.store.failSet = false
	require.Equal(t, before, f.stack(t, "c1"))

	f.store.failGet = true
	replies, err = f.orch.HandleTurn(context.Background(), message("c1", "u1", "Redmine"), nil)
	require.ErrorAs(t, err, &te)
	require.Equal(t, "load conversation", te.Op)
	require.Equal(t, []string{apology}, texts(replies))
}

func TestCorruptStackIsDiscarded(t *testing.T) {
	f := newFixture(t, "")
	bad, err := json.Marshal(ConversationState{Dialogs: dialog.Stack{Frames: []dialog.Frame{{DialogID: "removedDialog"}}}})
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), "conversation/test/c1", bad))

	require.Equal(t, []string{menuPrompt}, f.say(t, "c1", "u1", "hi"))
	requireMenuAtBase(t, f.stack(t, "c1"))
}

func TestPanicInStepIsContained(t *testing.T) {
	boom := dialog.Dialog{ID: dialogs.MainMenuID, Steps: []dialog.Step{
		func(ctx context.Context, sc *dialog.StepContext) (dialog.Outcome, error) {
			panic("kaboom")
		},
	}}
	set, err := dialog.NewSet(boom)
	require.NoError(t, err)
	store := state.NewMemoryStore()
	o, err := New(set, store, Options{Texts: Texts{Error: apology}})
	require.NoError(t, err)

	replies, err := o.HandleTurn(context.Background(), message("c1", "u1", "hi"), nil)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	require.Equal(t, KindPanic, te.Kind)
	require.Equal(t, []string{apology}, texts(replies))

	_, ok, err := store.Get(context.Background(), "user/test/u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCancelledTurnSendsNothing(t *testing.T) {
	f := newFixture(t, "")
	f.qnas[0].block = make(chan struct{})
	f.say(t, "c1", "u1", "hi")
	f.say(t, "c1", "u1", "Announcements")
	before := f.stack(t, "c1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	replies, err := f.orch.HandleTurn(ctx, message("c1", "u1", "slow question"), nil)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	require.Equal(t, KindCancelled, te.Kind)
	require.Empty(t, replies)
	require.Equal(t, before, f.stack(t, "c1"))
}

func TestTurnTimeoutApologises(t *testing.T) {
	f := newFixture(t, "")
	f.orch.timeout = 30 * time.Millisecond
	f.qnas[0].block = make(chan struct{})
	f.say(t, "c1", "u1", "hi")
	f.say(t, "c1", "u1", "Announcements")

	replies, err := f.orch.HandleTurn(context.Background(), message("c1", "u1", "slow question"), nil)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	require.Equal(t, KindTimeout, te.Kind)
	require.Equal(t, []string{apology}, texts(replies))
	require.Equal(t, "faq1Dialog", f.stack(t, "c1").Top().DialogID)
}

func TestNewRequiresMenu(t *testing.T) {
	set, err := dialog.NewSet(dialog.Dialog{ID: "other", Steps: []dialog.Step{
		func(ctx context.Context, sc *dialog.StepContext) (dialog.Outcome, error) { return dialog.End(nil), nil },
	}})
	require.NoError(t, err)
	_, err = New(set, state.NewMemoryStore(), Options{})
	require.Error(t, err)
}

func TestFirstGreeting(t *testing.T) {
	require.Equal(t, "", firstGreeting("", activity.Identity{Name: "A"}))
	require.Equal(t, "Hi A", firstGreeting("Hi %s", activity.Identity{Name: "A"}))
	require.Equal(t, "Hi 42", firstGreeting("Hi %s", activity.Identity{ID: "42"}))
	require.Equal(t, "Hello!", firstGreeting("Hello!", activity.Identity{Name: "A"}))
}

func TestRepliesDeliveredBeforeNextTurn(t *testing.T) {
	f := newFixture(t, "")
	f.say(t, "c1", "u1", "hi")

	var (
		mu        sync.Mutex
		delivered [][]string
	)
	record := func(_ context.Context, replies []activity.Reply) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, texts(replies))
		return nil
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	held := func(ctx context.Context, replies []activity.Reply) error {
		close(entered)
		<-release
		return record(ctx, replies)
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := f.orch.HandleTurn(context.Background(), message("c1", "u1", "Redmine"), held)
		return err
	})
	<-entered
	g.Go(func() error {
		_, err := f.orch.HandleTurn(context.Background(), message("c1", "u1", "How?"), record)
		return err
	})

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	require.Empty(t, delivered)
	mu.Unlock()

	close(release)
	require.NoError(t, g.Wait())
	require.Equal(t, [][]string{{"Ask your question."}, {noAnswer, menuPrompt}}, delivered)
}

func TestDeliveryFailureIsReportedAfterPersisting(t *testing.T) {
	f := newFixture(t, "")
	f.say(t, "c1", "u1", "hi")

	failing := func(context.Context, []activity.Reply) error { return errors.New("queue closed") }
	replies, err := f.orch.HandleTurn(context.Background(), message("c1", "u1", "Redmine"), failing)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	require.Equal(t, KindDelivery, te.Kind)
	require.Equal(t, []string{"Ask your question."}, texts(replies))
	require.Equal(t, 2, f.stack(t, "c1").Depth())
}

func TestDeliverReceivesApology(t *testing.T) {
	f := newFixture(t, "")
	f.say(t, "c1", "u1", "hi")
	f.store.failSet = true

	var got []string
	deliver := func(_ context.Context, replies []activity.Reply) error {
		got = texts(replies)
		return nil
	}
	_, err := f.orch.HandleTurn(context.Background(), message("c1", "u1", "Redmine"), deliver)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	require.Equal(t, KindStore, te.Kind)
	require.Equal(t, []string{apology}, got)
}

func TestCancelledTurnDeliversNothing(t *testing.T) {
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	deliver := func(context.Context, []activity.Reply) error {
		called = true
		return nil
	}
	_, err := f.orch.HandleTurn(ctx, message("c1", "u1", "hi"), deliver)
	require.Error(t, err)
	require.False(t, called)
}
