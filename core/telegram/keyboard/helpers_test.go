package keyboard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkLabels(t *testing.T) {
	require.Equal(t, [][]string{{"a", "b"}, {"c"}}, ChunkLabels([]string{"a", "b", "c"}, 2))
	require.Equal(t, [][]string{{"a"}, {"b"}}, ChunkLabels([]string{"a", "b"}, 0))
	require.Empty(t, ChunkLabels(nil, 3))
}

func TestChoices(t *testing.T) {
	m := Choices([]string{"アナウンス関連", "Redmine関連", "社内情報"})
	require.True(t, m.OneTimeKeyboard)
	require.True(t, m.ResizeKeyboard)
	require.Len(t, m.ReplyKeyboard, 3)
	require.Equal(t, "Redmine関連", m.ReplyKeyboard[1][0].Text)
}

func TestRemoveKeyboard(t *testing.T) {
	require.True(t, RemoveKeyboard().RemoveKeyboard)
}
