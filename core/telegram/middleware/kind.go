package middleware

import (
	coreconfig "github.com/m3rciful/qnabot/core/config"

	tele "gopkg.in/telebot.v4"
)

// UpdateKind buckets an update the way rate limit exclusions name them.
func UpdateKind(upd tele.Update) string {
	m := upd.Message
	if m == nil {
		return coreconfig.UpdateOther
	}
	switch {
	case len(m.UsersJoined) > 0 || m.UserJoined != nil || m.GroupCreated || m.SuperGroupCreated:
		return coreconfig.UpdateMembers
	case m.Text != "":
		return coreconfig.UpdateMessage
	}
	return coreconfig.UpdateOther
}
