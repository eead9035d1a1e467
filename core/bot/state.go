// Package bot runs one turn of the conversation: it welcomes users, drives
// the dialog stack and persists conversation and user state.
package bot

import "github.com/m3rciful/qnabot/core/dialog"

// ConversationState is stored per conversation and owns the dialog stack.
type ConversationState struct {
	Dialogs dialog.Stack `json:"dialogs"`
}

// UserState is stored per user across conversations.
type UserState struct {
	DidWelcome bool `json:"did_welcome"`
}
