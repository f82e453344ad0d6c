package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConversation() models.Conversation {
	return models.Conversation{
		ID:    "proj-1",
		Title: "Thesis",
		Participants: map[string]models.Participant{
			"s1": {Name: "Student", Role: "student"},
			"t1": {Name: "Teacher", Role: "teacher"},
		},
	}
}

func TestKeysBuildersParsers(t *testing.T) {
	k := GenMessageKey("proj-1", 42)
	assert.Equal(t, "c:proj-1:m:00000000000000000042", k)
	conv, pos, err := ParseMessageKey(k)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", conv)
	assert.Equal(t, uint64(42), pos)

	user, c, err := ParseUserConversationKey(GenUserConversationKey("u1", "proj-1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", user)
	assert.Equal(t, "proj-1", c)

	_, _, err = ParseMessageKey("c:proj-1:m:42")
	assert.Error(t, err)

	// padded positions sort like numbers
	assert.Less(t, GenMessageKey("a", 9), GenMessageKey("a", 10))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("conversation", "proj-7"))
	assert.Error(t, ValidateID("conversation", ""))
	assert.True(t, chaterr.IsValidation(ValidateID("conversation", "a:b")))
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("c:a:m;"), upperBound("c:a:m:"))
	assert.Equal(t, []byte("b"), upperBound("a\xff"))
}

func TestConversationRoundTripAndMembership(t *testing.T) {
	s := openTest(t)

	_, err := s.GetConversation("proj-1")
	assert.True(t, chaterr.IsNotFound(err))

	c := testConversation()
	require.NoError(t, s.InsertConversation(c))

	got, err := s.GetConversation("proj-1")
	require.NoError(t, err)
	assert.Equal(t, "Thesis", got.Title)
	assert.Len(t, got.Participants, 2)

	ids, err := s.ListConversationIDs("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"proj-1"}, ids)

	ids, err = s.ListConversationIDs("nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAppendListAndUnread(t *testing.T) {
	s := openTest(t)
	c := testConversation()
	require.NoError(t, s.InsertConversation(c))

	for i, sender := range []string{"s1", "s1", "t1"} {
		c.LastSeq++
		m := models.Message{
			ID:             "m" + string(rune('a'+i)),
			ConversationID: c.ID,
			SenderID:       sender,
			Text:           "hi",
			Position:       c.LastSeq,
		}
		require.NoError(t, s.AppendMessage(c, m))
	}

	msgs, err := s.ListMessages(c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.Position)
	}

	meta, err := s.GetConversation(c.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), meta.LastSeq)

	n, err := s.CountUnread(c.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m, err := s.GetMessage(c.ID, "mb")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.Position)

	m.Read = true
	require.NoError(t, s.PutMessages([]models.Message{m}))
	n, err = s.CountUnread(c.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetMessage(c.ID, "missing")
	assert.True(t, chaterr.IsNotFound(err))
}

func TestLastSeen(t *testing.T) {
	s := openTest(t)
	_, ok, err := s.LoadLastSeen("u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveLastSeen("u1", 1234))
	ts, ok, err := s.LoadLastSeen("u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1234), ts)
}

func TestClosedStoreIsTransient(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.False(t, s.Ready())
	_, err = s.GetConversation("x")
	assert.True(t, chaterr.IsTransient(err))
}
