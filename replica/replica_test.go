package replica

import (
	"context"
	"sort"
	"testing"

	"github.com/burntcarrot/convergent/commons"
	"github.com/burntcarrot/convergent/crdt"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(t *testing.T, id crdt.ReplicaID, kind crdt.Kind) *Replica {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	r, err := New(id, kind, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	return r
}

func applyAll(t *testing.T, r *Replica, msgs ...commons.Message) {
	t.Helper()
	for _, msg := range msgs {
		_, err := r.Apply(context.Background(), msg)
		require.NoError(t, err)
	}
}

func TestNewUnknownKind(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New("A", crdt.KindGCounter, logger)
	assert.ErrorIs(t, err, crdt.ErrUnknownKind)
}

func TestReplicaEditExchange(t *testing.T) {
	ctx := context.Background()
	for _, kind := range crdt.SequenceKinds {
		t.Run(string(kind), func(t *testing.T) {
			a := start(t, "A", kind)
			b := start(t, "B", kind)

			msgs, err := a.InsertText(ctx, 0, "hello")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, commons.ObjectDoc, msgs[0].Object)
			assert.Equal(t, commons.OperationInsert, msgs[0].Operation.Type)
			applyAll(t, b, msgs...)

			msgs, err = b.DeleteAt(ctx, 1, 3)
			require.NoError(t, err)
			assert.Equal(t, "ell", msgs[0].Operation.Value)
			applyAll(t, a, msgs...)

			for _, r := range []*Replica{a, b} {
				text, err := r.Text(ctx)
				require.NoError(t, err)
				assert.Equal(t, "ho", text)

				edits, err := r.Edits(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(2), edits)
			}

			va, err := a.Version(ctx)
			require.NoError(t, err)
			vb, err := b.Version(ctx)
			require.NoError(t, err)
			assert.Equal(t, crdt.Equal, va.Compare(vb))
		})
	}
}

func TestApplyReportsStaleDelta(t *testing.T) {
	ctx := context.Background()
	a := start(t, "A", crdt.KindRGA)
	b := start(t, "B", crdt.KindRGA)

	msgs, err := a.InsertText(ctx, 0, "x")
	require.NoError(t, err)

	changed, err := b.Apply(ctx, msgs[0])
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = b.Apply(ctx, msgs[0])
	require.NoError(t, err)
	assert.False(t, changed, "a duplicate delta must not change the replica")

	// Non-delta messages are ignored.
	changed, err = b.Apply(ctx, commons.Message{Type: commons.JoinMessage, Username: "bob"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyErrors(t *testing.T) {
	ctx := context.Background()
	r := start(t, "A", crdt.KindWOOT)

	_, err := r.Apply(ctx, commons.Message{Type: commons.DeltaMessage, Object: "cursor", Payload: []byte("{}")})
	assert.ErrorIs(t, err, ErrUnknownObject)

	_, err = r.Apply(ctx, commons.Message{Type: commons.DeltaMessage, Object: commons.ObjectDoc, Payload: []byte("{")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge doc")

	_, err = r.Apply(ctx, commons.Message{Type: commons.DocSyncMessage, Payload: []byte("[")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode snapshot")
}

func TestInsertOutOfBounds(t *testing.T) {
	r := start(t, "A", crdt.KindLogoot)

	_, err := r.InsertText(context.Background(), 1, "x")
	assert.ErrorIs(t, err, crdt.ErrPositionOutOfBounds)

	_, err = r.DeleteAt(context.Background(), 0, 1)
	assert.ErrorIs(t, err, crdt.ErrPositionOutOfBounds)

	msgs, err := r.InsertText(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPresenceAndTitle(t *testing.T) {
	ctx := context.Background()
	a := start(t, "A", crdt.KindTreedoc)
	b := start(t, "B", crdt.KindTreedoc)

	join, err := a.Join(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", join.Username)
	applyAll(t, b, join)

	join, err = b.Join(ctx, "bob")
	require.NoError(t, err)
	leave, err := b.Leave(ctx, "alice")
	require.NoError(t, err)
	applyAll(t, a, join, leave)

	title, err := a.SetTitle(ctx, "notes")
	require.NoError(t, err)
	applyAll(t, b, title)

	for _, r := range []*Replica{a, b} {
		users, err := r.Users(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, users)

		got, err := r.Title(ctx)
		require.NoError(t, err)
		assert.Equal(t, "notes", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	a := start(t, "A", crdt.KindCausalTree)

	_, err := a.InsertText(ctx, 0, "draft")
	require.NoError(t, err)
	_, err = a.SetTitle(ctx, "plan")
	require.NoError(t, err)
	_, err = a.Join(ctx, "alice")
	require.NoError(t, err)

	s, err := a.Snapshot(ctx)
	require.NoError(t, err)
	payload, err := EncodeSnapshot(s)
	require.NoError(t, err)
	sync := commons.Message{Type: commons.DocSyncMessage, Payload: payload}

	c := start(t, "C", crdt.KindCausalTree)
	changed, err := c.Apply(ctx, sync)
	require.NoError(t, err)
	assert.True(t, changed)

	text, err := c.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "draft", text)
	title, err := c.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plan", title)
	users, err := c.Users(ctx)
	require.NoError(t, err)
	sort.Strings(users)
	assert.Equal(t, []string{"alice"}, users)

	changed, err = c.Apply(ctx, sync)
	require.NoError(t, err)
	assert.False(t, changed)

	other := start(t, "D", crdt.KindRGA)
	_, err = other.Apply(ctx, sync)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestDoAfterStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r, err := New("A", crdt.KindRGA, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	_, err = r.Text(context.Background())
	assert.ErrorIs(t, err, ErrReplicaStopped)
}

func TestDoHonorsContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r, err := New("A", crdt.KindRGA, logger)
	require.NoError(t, err)

	// Nothing runs the replica, so the call can only end through ctx.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Text(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoReportsAcceptedOperation(t *testing.T) {
	r := start(t, "A", crdt.KindRGA)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	// fn commits only after the caller's context is gone.
	err := r.Do(ctx, func(o *Objects) error {
		close(started)
		<-ctx.Done()
		_, err := o.Doc.Insert(0, "x")
		return err
	})
	require.NoError(t, err)

	text, err := r.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", text)
}

func TestLeaveRetractsOnlyGivenTags(t *testing.T) {
	ctx := context.Background()
	a := start(t, "A", crdt.KindRGA)
	b := start(t, "B", crdt.KindRGA)

	first, err := a.Join(ctx, "alice")
	require.NoError(t, err)
	second, err := a.Join(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.Text, second.Text)

	tag, err := crdt.ParseTag(first.Text)
	require.NoError(t, err)
	leave, err := a.Leave(ctx, "alice", tag)
	require.NoError(t, err)
	assert.Equal(t, commons.OperationLeave, leave.Operation.Type)
	applyAll(t, b, second, leave)

	for _, r := range []*Replica{a, b} {
		users, err := r.Users(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, users)
	}

	tag, err = crdt.ParseTag(second.Text)
	require.NoError(t, err)
	leave, err = a.Leave(ctx, "alice", tag)
	require.NoError(t, err)
	applyAll(t, b, leave)

	users, err := b.Users(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestStateMessages(t *testing.T) {
	ctx := context.Background()
	a := start(t, "A", crdt.KindLogoot)
	b := start(t, "B", crdt.KindLogoot)

	_, err := a.InsertText(ctx, 0, "saved")
	require.NoError(t, err)
	_, err = a.SetTitle(ctx, "notes")
	require.NoError(t, err)
	_, err = a.Join(ctx, "alice")
	require.NoError(t, err)

	msgs, err := a.StateMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, len(commons.Objects))
	for _, msg := range msgs {
		assert.Equal(t, commons.DeltaMessage, msg.Type)
		assert.Equal(t, crdt.ReplicaID("A"), msg.Replica)
	}
	applyAll(t, b, msgs...)

	text, err := b.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "saved", text)

	title, err := b.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "notes", title)

	users, err := b.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	edits, err := b.Edits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), edits)

	// A second delivery changes nothing.
	for _, msg := range msgs {
		changed, err := b.Apply(ctx, msg)
		require.NoError(t, err)
		assert.False(t, changed, msg.Object)
	}
}
