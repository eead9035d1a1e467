package activity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   Activity
		want Type
	}{
		{"explicit message", Activity{Type: TypeMessage}, TypeMessage},
		{"explicit update", Activity{Type: TypeConversationUpdate}, TypeConversationUpdate},
		{"derived update", Activity{MembersAdded: []Identity{{ID: "1"}}}, TypeConversationUpdate},
		{"derived message", Activity{Text: "hi"}, TypeMessage},
		{"empty text", Activity{}, TypeOther},
		{"whitespace text", Activity{Text: "   "}, TypeMessage},
		{"unknown type", Activity{Type: "typing"}, TypeOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.in))
		})
	}
}

func TestKeys(t *testing.T) {
	a := Activity{
		ChannelID:    "telegram",
		From:         Identity{ID: "42"},
		Conversation: Identity{ID: "-100"},
	}
	require.Equal(t, "telegram/-100", a.ConversationKey())
	require.Equal(t, "telegram/42", a.UserKey())
}
