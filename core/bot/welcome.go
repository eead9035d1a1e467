package bot

import (
	"strings"

	"github.com/m3rciful/qnabot/core/activity"
)

// welcomeReplies greets every added member except the bot itself.
func welcomeReplies(act activity.Activity, text string) []activity.Reply {
	var out []activity.Reply
	for _, m := range act.MembersAdded {
		if m.ID == act.Recipient.ID {
			continue
		}
		out = append(out, activity.Text(text))
	}
	return out
}

// firstGreeting fills the first "%s" in tmpl with the sender's name.
func firstGreeting(tmpl string, from activity.Identity) string {
	if tmpl == "" {
		return ""
	}
	name := strings.TrimSpace(from.Name)
	if name == "" {
		name = from.ID
	}
	return strings.Replace(tmpl, "%s", name, 1)
}
