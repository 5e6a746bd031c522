package mailbox

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/models"
)

func newRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	// strictly increasing clock so ordering assertions are deterministic
	base := time.Now()
	tick := 0
	opts = append([]Option{WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	})}, opts...)
	return New(st, opts...)
}

func subjects(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Subject
	}
	return out
}

func TestSend_validation(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()
	_, err := r.Send(ctx, Envelope{ToRun: "r1", ToGroup: "g", Body: "x"})
	assert.ErrorIs(t, err, ErrAmbiguousRecipient)
	_, err = r.Send(ctx, Envelope{ToGroup: "g", Body: "   "})
	assert.ErrorIs(t, err, ErrEmptyBody)
	_, err = r.Send(ctx, Envelope{Body: "x", Type: "gossip"})
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = r.Send(ctx, Envelope{Body: "x", Priority: "whenever"})
	assert.ErrorIs(t, err, ErrInvalidPriority)

	id, err := r.Send(ctx, Envelope{ToGroup: "g", Body: "x"})
	require.NoError(t, err)
	m, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TypeNotification, m.MessageType)
	assert.Equal(t, models.PriorityNormal, m.Priority)
	assert.Equal(t, models.MessagePending, m.Status)
	assert.Nil(t, m.ToRunID)
}

func TestCheckInbox_recipientRules(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()
	send := func(env Envelope) {
		t.Helper()
		_, err := r.Send(ctx, env)
		require.NoError(t, err)
	}
	send(Envelope{Subject: "to-alpha", ToGroup: "alpha", Body: "x"})
	send(Envelope{Subject: "everyone", Body: "x"})
	send(Envelope{Subject: "to-beta", ToGroup: "beta", Body: "x"})
	send(Envelope{Subject: "to-run", ToRun: "run-1", Body: "x"})

	unfiltered, err := r.CheckInbox(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"to-alpha", "everyone", "to-beta"}, subjects(unfiltered))

	alpha, err := r.CheckInbox(ctx, Query{Group: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"to-alpha", "everyone"}, subjects(alpha))

	alphaOnly, err := r.CheckInbox(ctx, Query{Group: "alpha", ExcludeBroadcasts: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"to-alpha"}, subjects(alphaOnly))

	run, err := r.CheckInbox(ctx, Query{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"everyone", "to-run"}, subjects(run))

	both, err := r.CheckInbox(ctx, Query{RunID: "run-1", Group: "beta"})
	require.NoError(t, err)
	assert.Equal(t, []string{"everyone", "to-beta", "to-run"}, subjects(both))

	// checking does not consume
	again, err := r.CheckInbox(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestMarkRead_idempotent(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()
	id, err := r.Send(ctx, Envelope{ToGroup: "alpha", Body: "x"})
	require.NoError(t, err)

	require.NoError(t, r.MarkRead(ctx, id))
	require.NoError(t, r.MarkRead(ctx, id))
	m, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRead, m.Status)

	inbox, err := r.CheckInbox(ctx, Query{Group: "alpha"})
	require.NoError(t, err)
	assert.Empty(t, inbox)
	inbox, err = r.CheckInbox(ctx, Query{Group: "alpha", IncludeRead: true})
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	assert.ErrorIs(t, r.MarkRead(ctx, "missing"), ErrNotFound)
}

func TestAcknowledge(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()
	id, err := r.Send(ctx, Envelope{ToRun: "r1", Body: "x"})
	require.NoError(t, err)
	require.NoError(t, r.Acknowledge(ctx, id))
	m, _ := r.Get(ctx, id)
	assert.Equal(t, models.MessageAcknowledged, m.Status)
	require.NotNil(t, m.ReadAt)
	assert.ErrorIs(t, r.Acknowledge(ctx, "missing"), ErrNotFound)
}

func TestReply(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()
	q, err := r.Send(ctx, Envelope{FromRun: "worker-7", ToGroup: "coordinator", Type: models.TypeQuestion, Priority: models.PriorityUrgent, Subject: "Which DB?", Body: "sqlite or postgres?"})
	require.NoError(t, err)

	replyID, err := r.Reply(ctx, q, "", "postgres")
	require.NoError(t, err)
	reply, err := r.Get(ctx, replyID)
	require.NoError(t, err)
	require.NotNil(t, reply.ToRunID)
	assert.Equal(t, "worker-7", *reply.ToRunID)
	assert.Equal(t, "Re: Which DB?", reply.Subject)
	assert.Equal(t, models.PriorityUrgent, reply.Priority)
	assert.Equal(t, q, reply.Metadata["reply_to"])

	orig, _ := r.Get(ctx, q)
	assert.Equal(t, models.MessageRead, orig.Status)

	inbox, err := r.CheckInbox(ctx, Query{RunID: "worker-7", ExcludeBroadcasts: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Re: Which DB?"}, subjects(inbox))

	anon, err := r.Send(ctx, Envelope{ToGroup: "coordinator", Body: "no sender"})
	require.NoError(t, err)
	_, err = r.Reply(ctx, anon, "", "hello?")
	assert.ErrorIs(t, err, ErrNoSender)
	_, err = r.Reply(ctx, "missing", "", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBroadcastAndNotify(t *testing.T) {
	var seen []models.Message
	r := newRouter(t, WithNotify(func(m models.Message) { seen = append(seen, m) }))
	ctx := context.Background()
	id, err := r.Broadcast(ctx, "", "Deploy freeze", "no merges today", "")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, id, seen[0].MessageID)
	assert.Equal(t, models.TypeBroadcast, seen[0].MessageType)

	for _, q := range []Query{{}, {Group: "any"}, {RunID: "any"}} {
		inbox, err := r.CheckInbox(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"Deploy freeze"}, subjects(inbox))
	}
}

func TestCheckInbox_returnsEveryPendingMessage(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()
	const n = 520
	for i := 0; i < n; i++ {
		_, err := r.Send(ctx, Envelope{ToGroup: "alpha", Subject: fmt.Sprintf("m%d", i), Body: "x"})
		require.NoError(t, err)
	}

	all, err := r.CheckInbox(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, n)
	assert.Equal(t, "m0", all[0].Subject)
	assert.Equal(t, fmt.Sprintf("m%d", n-1), all[n-1].Subject)

	group, err := r.CheckInbox(ctx, Query{Group: "alpha", IncludeRead: true})
	require.NoError(t, err)
	assert.Len(t, group, n)

	capped, err := r.CheckInbox(ctx, Query{Group: "alpha", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1", "m2"}, subjects(capped))
}
