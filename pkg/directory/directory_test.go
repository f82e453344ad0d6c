package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/messagelog"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/retry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/store"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

var pair = map[string]models.Participant{
	"S": {Name: "Sam", Role: "student"},
	"T": {Name: "Tess", Role: "teacher"},
}

func setup(t *testing.T) (*Directory, *messagelog.Log) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	d := New(st, 64, retry.DefaultPolicy)
	l := messagelog.New(st, messagelog.Options{})
	l.SetNotifier(d)
	t.Cleanup(func() {
		l.Close()
		d.Close()
		_ = st.Close()
	})
	return d, l
}

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "stream ended: %v", sub.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbox event")
	}
	return Event{}
}

func TestCreateOrGetIsIdempotent(t *testing.T) {
	d, _ := setup(t)
	ctx := context.Background()

	c1, err := d.CreateOrGet(ctx, "proj-1", "Thesis", pair)
	require.NoError(t, err)
	assert.Equal(t, "Thesis", c1.Title)

	c2, err := d.CreateOrGet(ctx, "proj-1", "Renamed", map[string]models.Participant{
		"S": {Name: "Other", Role: "x"},
		"Z": {Name: "Zed", Role: "teacher"},
	})
	require.NoError(t, err)
	assert.Equal(t, c1, c2, "repeat calls never overwrite")

	rows, err := d.ListFor("T")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "proj-1", rows[0].Conversation.ID)

	rows, err = d.ListFor("Z")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateOrGetValidation(t *testing.T) {
	d, _ := setup(t)
	ctx := context.Background()

	_, err := d.CreateOrGet(ctx, "p", "x", map[string]models.Participant{"S": {}})
	assert.True(t, chaterr.IsValidation(err))
	_, err = d.CreateOrGet(ctx, "p", "x", map[string]models.Participant{"a": {}, "b": {}, "c": {}})
	assert.True(t, chaterr.IsValidation(err))
	_, err = d.CreateOrGet(ctx, "bad:id", "x", pair)
	assert.True(t, chaterr.IsValidation(err))
}

func TestFanOutUpdatesBothInboxes(t *testing.T) {
	d, l := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := d.CreateOrGet(ctx, "proj-1", "Thesis", pair)
	require.NoError(t, err)

	sSub, err := d.SubscribeToConversationsOf(ctx, "S")
	require.NoError(t, err)
	tSub, err := d.SubscribeToConversationsOf(ctx, "T")
	require.NoError(t, err)

	snap := next(t, tSub)
	assert.Equal(t, EventSnapshot, snap.Kind)
	require.Len(t, snap.Summaries, 1)
	assert.Nil(t, snap.Summaries[0].LastMessage)
	next(t, sSub)

	_, err = l.Append(ctx, messagelog.AppendRequest{ConversationID: "proj-1", SenderID: "S", SenderName: "Sam", Text: "hello"})
	require.NoError(t, err)

	tEv := next(t, tSub)
	assert.Equal(t, EventUpsert, tEv.Kind)
	require.Len(t, tEv.Summaries, 1)
	require.NotNil(t, tEv.Summaries[0].LastMessage)
	assert.Equal(t, "hello", tEv.Summaries[0].LastMessage.Text)
	assert.Equal(t, 1, tEv.Summaries[0].UnreadCount)

	sEv := next(t, sSub)
	assert.Equal(t, 0, sEv.Summaries[0].UnreadCount, "own messages are never unread")

	_, err = l.MarkRead(ctx, "proj-1", "T")
	require.NoError(t, err)
	tEv = next(t, tSub)
	assert.Equal(t, 0, tEv.Summaries[0].UnreadCount)
}

func TestUnreadCount(t *testing.T) {
	d, l := setup(t)
	ctx := context.Background()
	_, err := d.CreateOrGet(ctx, "proj-1", "Thesis", pair)
	require.NoError(t, err)

	for _, txt := range []string{"a", "b", "c"} {
		_, err := l.Append(ctx, messagelog.AppendRequest{ConversationID: "proj-1", SenderID: "S", Text: txt})
		require.NoError(t, err)
	}
	_, err = l.Append(ctx, messagelog.AppendRequest{ConversationID: "proj-1", SenderID: "T", Text: "d"})
	require.NoError(t, err)

	n, err := d.UnreadCount("proj-1", "T")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = d.UnreadCount("proj-1", "S")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = l.MarkRead(ctx, "proj-1", "T")
	require.NoError(t, err)
	n, err = d.UnreadCount("proj-1", "T")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = d.UnreadCount("missing", "T")
	assert.True(t, chaterr.IsNotFound(err))
}

func TestListForSortsByActivity(t *testing.T) {
	clock := timeutil.NewManualClock(time.Unix(1_700_000_000, 0))
	defer timeutil.SetClock(clock.Now)()

	d, l := setup(t)
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := d.CreateOrGet(ctx, id, id, pair)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	_, err := l.Append(ctx, messagelog.AppendRequest{ConversationID: "p1", SenderID: "T", Text: "bump"})
	require.NoError(t, err)

	rows, err := d.ListFor("S")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"p1", "p3", "p2"}, []string{
		rows[0].Conversation.ID, rows[1].Conversation.ID, rows[2].Conversation.ID,
	})
	assert.Equal(t, 1, rows[0].UnreadCount)
}
