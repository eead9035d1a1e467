package dialogs

import (
	"context"
	"log/slog"

	"github.com/m3rciful/qnabot/core/dialog"
	"github.com/m3rciful/qnabot/core/logger"
	"github.com/m3rciful/qnabot/core/qna"
)

// FAQTexts parameterise one FAQ dialog.
type FAQTexts struct {
	Prompt   string
	NoAnswer string
	Failure  string
}

// NewFAQ builds a two-step dialog: ask for a question, answer it from
// client and end. It always ends, even when the lookup fails, so the menu
// underneath resumes. A cancelled turn is the one exception: the error is
// returned and the turn is abandoned.
func NewFAQ(id string, client qna.Client, texts FAQTexts) dialog.Dialog {
	promptText := func(ctx context.Context, sc *dialog.StepContext) (dialog.Outcome, error) {
		return dialog.Prompt(dialog.TextPrompt(texts.Prompt)), nil
	}

	answerAndEnd := func(ctx context.Context, sc *dialog.StepContext) (dialog.Outcome, error) {
		question, _ := sc.Result.(string)
		answers, err := client.GetAnswers(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return dialog.Outcome{}, err
			}
			logger.Warn(ctx, "dialog", "faq.answer",
				slog.String("status", "fail"),
				slog.String("outcome", "fallback"),
				slog.String("err_kind", "EXTERNAL_CALL_FAILURE"),
				slog.String("err", err.Error()),
			)
			sc.SendText(texts.Failure)
			return dialog.End(nil), nil
		}
		if len(answers) == 0 {
			logger.Info(ctx, "dialog", "faq.answer",
				slog.String("status", "ok"),
				slog.String("outcome", "no_answer"),
			)
			sc.SendText(texts.NoAnswer)
			return dialog.End(nil), nil
		}
		top := answers[0]
		logger.Info(ctx, "dialog", "faq.answer",
			slog.String("status", "ok"),
			slog.String("outcome", "answered"),
			slog.Int("count", len(answers)),
		)
		sc.SendText(top.Text)
		return dialog.End(top.Text), nil
	}

	return dialog.Dialog{
		ID:    id,
		Steps: []dialog.Step{promptText, answerAndEnd},
	}
}
