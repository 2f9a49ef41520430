package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListToken(t *testing.T) {
	tests := []struct {
		subject    string
		identifier string
		key        string
		ok         bool
	}{
		{"[Kayak Club] Trip on Saturday", "[Kayak Club]", "kayak-club", true},
		{"Re: [Kayak Club] Trip on Saturday", "[Kayak Club]", "kayak-club", true},
		{"[board]", "[board]", "board", true},
		{"[ Board  Members ] minutes", "[ Board  Members ]", "board-members", true},
		{"no token here", "", "", false},
		{"broken [token", "", "", false},
		{"[] empty", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			identifier, key, ok := ListToken(tt.subject)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.identifier, identifier)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestGroupMessages(t *testing.T) {
	messages := []*RawMessage{
		{UID: 1, Subject: "[Kayak Club] Trip"},
		{UID: 2, Subject: "Re: [Kayak Club] Trip"},
		{UID: 3, Subject: "[Chess] Tournament"},
		{UID: 4, Subject: "personal mail"},
	}

	batch := GroupMessages(messages)

	assert.Len(t, batch.Groups, 3)

	kayak := batch.Groups["kayak-club"]
	if assert.NotNil(t, kayak) {
		assert.Equal(t, GroupMailingList, kayak.Kind)
		assert.Equal(t, "[Kayak Club]", kayak.Identifier)
		assert.Len(t, kayak.Messages, 2)
	}

	chess := batch.Groups["chess"]
	if assert.NotNil(t, chess) {
		assert.Len(t, chess.Messages, 1)
	}

	other := batch.Groups[""]
	if assert.NotNil(t, other) {
		assert.Equal(t, GroupOther, other.Kind)
		assert.Len(t, other.Messages, 1)
	}
}

func TestBatchEmpty(t *testing.T) {
	assert.True(t, (*Batch)(nil).Empty())
	assert.True(t, (&Batch{}).Empty())
	assert.False(t, GroupMessages([]*RawMessage{{UID: 1}}).Empty())
}
