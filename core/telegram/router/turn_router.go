package router

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/qnabot/core/activity"
	tg "github.com/m3rciful/qnabot/core/telegram"
	tghelpers "github.com/m3rciful/qnabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// ChannelID names Telegram in state keys.
const ChannelID = "telegram"

// TurnHandler runs one turn for an activity, handing its replies to deliver.
type TurnHandler interface {
	HandleTurn(ctx context.Context, act activity.Activity, deliver activity.Deliver) ([]activity.Reply, error)
}

// TurnRoutes maps every update kind the bot reacts to onto turns of h.
// me is the bot's own identity, used as the activity recipient.
func TurnRoutes(h TurnHandler, me *tele.User) []tg.Route {
	handler := turnHandler(h, me)
	endpoints := []any{
		"/start",
		tele.OnText,
		tele.OnUserJoined,
		tele.OnAddedToGroup,
		tele.OnMedia,
		tele.OnSticker,
		tele.OnLocation,
		tele.OnContact,
	}
	routes := make([]tg.Route, 0, len(endpoints))
	for _, e := range endpoints {
		routes = append(routes, tg.Route{Endpoint: e, Handler: handler})
	}
	return routes
}

func turnHandler(h TurnHandler, me *tele.User) tele.HandlerFunc {
	return func(c tele.Context) error {
		act, ok := ActivityFromUpdate(c.Update(), me)
		if !ok {
			return nil
		}
		name := "turn." + string(act.Type)
		start := time.Now()
		ctx := tghelpers.WithHandler(c, name)

		// A failed turn may still deliver the apology.
		replies, err := h.HandleTurn(ctx, act, func(_ context.Context, replies []activity.Reply) error {
			return tghelpers.SendReplies(c, replies)
		})
		logHandlerSummary(c, name, start, "", "", err,
			slog.String("activity_type", string(act.Type)),
			slog.Int("replies", len(replies)),
		)
		return err
	}
}

// ActivityFromUpdate converts a telebot update into a channel-agnostic activity.
// It reports false for updates that carry no message.
func ActivityFromUpdate(upd tele.Update, me *tele.User) (activity.Activity, bool) {
	m := upd.Message
	if m == nil {
		return activity.Activity{}, false
	}
	act := activity.Activity{
		ID:        strconv.Itoa(upd.ID),
		ChannelID: ChannelID,
		From:      identity(m.Sender),
		Recipient: identity(me),
	}
	if m.Chat != nil {
		act.Conversation = activity.Identity{
			ID:   strconv.FormatInt(m.Chat.ID, 10),
			Name: m.Chat.Title,
		}
	}

	switch {
	case len(m.UsersJoined) > 0:
		act.Type = activity.TypeConversationUpdate
		for i := range m.UsersJoined {
			act.MembersAdded = append(act.MembersAdded, identity(&m.UsersJoined[i]))
		}
	case m.UserJoined != nil:
		act.Type = activity.TypeConversationUpdate
		act.MembersAdded = []activity.Identity{identity(m.UserJoined)}
	case m.GroupCreated || m.SuperGroupCreated:
		act.Type = activity.TypeConversationUpdate
		act.MembersAdded = []activity.Identity{act.From, act.Recipient}
	case isStart(m.Text):
		act.Type = activity.TypeConversationUpdate
		act.MembersAdded = []activity.Identity{act.From}
	case m.Text != "":
		act.Type = activity.TypeMessage
		act.Text = m.Text
	default:
		act.Type = activity.TypeOther
	}
	return act, true
}

func isStart(text string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/start"
}

func identity(u *tele.User) activity.Identity {
	if u == nil {
		return activity.Identity{}
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return activity.Identity{
		ID:    strconv.FormatInt(u.ID, 10),
		Name:  name,
		IsBot: u.IsBot,
	}
}
