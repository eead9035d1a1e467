// Package dialogs holds the bot's concrete dialogs: the main menu and the
// FAQ template it routes to.
package dialogs

import (
	"context"
	"log/slog"

	"github.com/m3rciful/qnabot/core/dialog"
	"github.com/m3rciful/qnabot/core/logger"
)

// MainMenuID is the id the orchestrator begins when no dialog is active.
const MainMenuID = "mainMenuDialog"

// MenuOption binds a label shown to the user to the dialog it starts.
type MenuOption struct {
	Label    string
	DialogID string
}

// MenuTexts are the prompt and the retry text for invalid choices.
type MenuTexts struct {
	Prompt string
	Retry  string
}

// NewMenu builds the looping menu: prompt for a choice, run the chosen
// dialog, then replace itself so the menu is offered again.
func NewMenu(id string, texts MenuTexts, options []MenuOption) dialog.Dialog {
	labels := make([]string, len(options))
	targets := make(map[string]string, len(options))
	for i, o := range options {
		labels[i] = o.Label
		targets[o.Label] = o.DialogID
	}

	promptMenu := func(ctx context.Context, sc *dialog.StepContext) (dialog.Outcome, error) {
		return dialog.Prompt(dialog.ChoicePrompt(texts.Prompt, texts.Retry, labels...)), nil
	}

	routeChoice := func(ctx context.Context, sc *dialog.StepContext) (dialog.Outcome, error) {
		choice, _ := sc.Result.(dialog.FoundChoice)
		target, ok := targets[choice.Value]
		if !ok {
			logger.Warn(ctx, "dialog", "menu.route",
				slog.String("status", "skip"),
				slog.String("payload", logger.SanitizeLimit(choice.Value, 64)),
			)
			return dialog.Next(nil), nil
		}
		logger.Debug(ctx, "dialog", "menu.route",
			slog.String("status", "ok"),
			slog.String("payload", choice.Value),
			slog.String("target", target),
		)
		return dialog.Begin(target, nil), nil
	}

	resetLoop := func(ctx context.Context, sc *dialog.StepContext) (dialog.Outcome, error) {
		return dialog.Replace(id, nil), nil
	}

	return dialog.Dialog{
		ID:    id,
		Steps: []dialog.Step{promptMenu, routeChoice, resetLoop},
	}
}
