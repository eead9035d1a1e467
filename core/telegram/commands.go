package telegram

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/qnabot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// Command is an entry of the bot's command menu.
type Command struct {
	Name        string
	Description string
}

// botCommands normalises names to Telegram's form (lowercase, no slash),
// drops invalid or duplicate entries and sorts the rest.
func botCommands(cmds []Command) []tele.Command {
	seen := make(map[string]struct{}, len(cmds))
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		desc := strings.TrimSpace(c.Description)
		if name == "" || desc == "" || len(name) > 32 {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		list = append(list, tele.Command{Text: name, Description: desc})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// publishCommands sets the command menu; failures are logged, not fatal.
func publishCommands(ctx context.Context, bot *tele.Bot, cmds []Command) {
	list := botCommands(cmds)
	if len(list) == 0 {
		return
	}
	if err := bot.SetCommands(list); err != nil {
		logger.Error(ctx, "tg.wire", "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
		return
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Text)
	}
	summary, _ := logger.SummarizeStrings(names, 10)
	logger.Info(ctx, "tg.wire", "register.commands",
		slog.Int("count", len(list)),
		slog.String("commands", summary),
	)
}
