// Package activity holds the channel-agnostic shape of inbound events and
// outbound replies exchanged between a transport and the turn orchestrator.
package activity

import "context"

// Type categorises an inbound activity.
type Type string

const (
	// TypeMessage is a user message carrying text.
	TypeMessage Type = "message"
	// TypeConversationUpdate reports members joining a conversation.
	TypeConversationUpdate Type = "conversationUpdate"
	// TypeOther covers everything else the channel delivers.
	TypeOther Type = "other"
)

// Identity names a participant or a conversation on a channel.
type Identity struct {
	ID    string
	Name  string
	IsBot bool
}

// Activity is one inbound event. It is immutable for the duration of a turn.
type Activity struct {
	ID           string
	Type         Type
	ChannelID    string
	Text         string
	From         Identity
	Recipient    Identity
	Conversation Identity
	MembersAdded []Identity
}

// Classify returns the normalised type of a, deriving it from the payload
// when the transport did not set one.
func Classify(a Activity) Type {
	switch a.Type {
	case TypeMessage, TypeConversationUpdate, TypeOther:
		return a.Type
	}
	if len(a.MembersAdded) > 0 {
		return TypeConversationUpdate
	}
	if a.Text != "" {
		return TypeMessage
	}
	return TypeOther
}

// ConversationKey identifies the conversation state owned by a.
func (a Activity) ConversationKey() string {
	return a.ChannelID + "/" + a.Conversation.ID
}

// UserKey identifies the user state owned by the sender of a.
func (a Activity) UserKey() string {
	return a.ChannelID + "/" + a.From.ID
}

// Reply is an outbound message produced during a turn. Choices, when present,
// are the labels the channel should offer as quick replies.
type Reply struct {
	Text    string
	Choices []string
	// ExpectsText marks a free-text prompt; channels may hide stale keyboards.
	ExpectsText bool
}

// Text builds a plain reply.
func Text(text string) Reply {
	return Reply{Text: text}
}

// Deliver hands a turn's replies to the channel. It runs before the next
// turn of the same conversation starts, so it should only queue the replies.
type Deliver func(ctx context.Context, replies []Reply) error
