package helpers

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/qnabot/core/activity"
	"github.com/m3rciful/qnabot/core/logger"
	"github.com/m3rciful/qnabot/core/telegram/keyboard"
	"github.com/m3rciful/qnabot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

func sendAsync(c tele.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}

	ctx := BuildContext(c)
	err := disp.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, sender.ErrQueueFull) {
		logger.Warn(ctx, "tg.sender", "queue.full",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
		)
		err = disp.EnqueueWait(ctx, action, endpoint, run)
	}
	if err == nil {
		return nil
	}
	// Shutting down: nothing else will send for this conversation.
	if errors.Is(err, sender.ErrQueueClosed) || ctx.Err() != nil {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			slog.String("err", err.Error()),
		)
		return run()
	}
	return err
}

// SendText sends raw text (no parse mode) to the current recipient.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	var sendOpts *tele.SendOptions
	if len(opts) > 0 {
		sendOpts = opts[0]
	}
	return sendAsync(c, "send.text", "sendMessage", func() error {
		if sendOpts != nil {
			return c.Send(text, sendOpts)
		}
		return c.Send(text)
	})
}

// SendOptionsFor maps a reply to Telegram send options: choices become a
// one-time reply keyboard, free-text prompts clear any keyboard left open.
func SendOptionsFor(r activity.Reply) *tele.SendOptions {
	switch {
	case len(r.Choices) > 0:
		return &tele.SendOptions{ReplyMarkup: keyboard.Choices(r.Choices)}
	case r.ExpectsText:
		return &tele.SendOptions{ReplyMarkup: keyboard.RemoveKeyboard()}
	}
	return nil
}

// SendReplies delivers a turn's replies in order as a single dispatcher job.
// Each message is sent at most once, so a retried job resumes after the last
// delivered reply.
func SendReplies(c tele.Context, replies []activity.Reply) error {
	if len(replies) == 0 {
		return nil
	}
	var next int
	return sendAsync(c, "send.replies", "sendMessage", func() error {
		for next < len(replies) {
			r := replies[next]
			var err error
			if opts := SendOptionsFor(r); opts != nil {
				err = c.Send(r.Text, opts)
			} else {
				err = c.Send(r.Text)
			}
			if err != nil {
				return fmt.Errorf("reply %d/%d: %w", next+1, len(replies), err)
			}
			next++
		}
		return nil
	})
}
