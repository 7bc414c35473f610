package replica

import (
	"context"
	"errors"
	"strconv"

	"github.com/burntcarrot/convergent/commons"
	"github.com/burntcarrot/convergent/crdt"
	"github.com/sirupsen/logrus"
)

var (
	ErrReplicaStopped = errors.New("replica stopped")
	ErrUnknownObject  = errors.New("unknown object")
	ErrKindMismatch   = errors.New("snapshot kind does not match the document kind")
)

// Objects is the set of replicated objects handed to closures run through Do.
type Objects struct {
	Clock *crdt.Clock
	Doc   crdt.Sequence[string]
	Users *crdt.ORSet[string]
	Title *crdt.LWWRegister[string]
	Edits *crdt.PNCounter
}

// object returns the replicated value behind a wire name.
func (o *Objects) object(name commons.Object) (crdt.Replicated, error) {
	switch name {
	case commons.ObjectDoc:
		return o.Doc, nil
	case commons.ObjectUsers:
		return o.Users, nil
	case commons.ObjectTitle:
		return o.Title, nil
	case commons.ObjectEdits:
		return o.Edits, nil
	}
	return nil, ErrUnknownObject
}

// Replica serializes access to the objects of one participant.
type Replica struct {
	id      crdt.ReplicaID
	kind    crdt.Kind
	objects *Objects
	log     logrus.FieldLogger

	ops  chan func()
	done chan struct{}
}

// New returns a replica holding empty objects. Run must be called before any
// other method returns.
func New(id crdt.ReplicaID, kind crdt.Kind, log logrus.FieldLogger) (*Replica, error) {
	clock := crdt.NewClock(id)
	doc, err := crdt.NewTextSequence(kind, clock)
	if err != nil {
		return nil, err
	}

	return &Replica{
		id:   id,
		kind: kind,
		objects: &Objects{
			Clock: clock,
			Doc:   doc,
			Users: crdt.NewORSet[string](),
			Title: crdt.NewLWWRegister[string](clock),
			Edits: crdt.NewPNCounter(),
		},
		log:  log.WithField("replica", id),
		ops:  make(chan func()),
		done: make(chan struct{}),
	}, nil
}

// ID returns the replica id.
func (r *Replica) ID() crdt.ReplicaID {
	return r.id
}

// Kind returns the sequence variant of the document.
func (r *Replica) Kind() crdt.Kind {
	return r.kind
}

// Run executes operations until ctx is done.
func (r *Replica) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

// Do runs fn on the replica goroutine and returns its error. ctx only bounds
// the wait for the replica to accept fn.
func (r *Replica) Do(ctx context.Context, fn func(*Objects) error) error {
	result := make(chan error, 1)
	op := func() { result <- fn(r.objects) }

	select {
	case r.ops <- op:
	case <-r.done:
		return ErrReplicaStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// fn owns the objects until it returns; its result is reported even if
	// ctx is done by then.
	return <-result
}

func (r *Replica) delta(object commons.Object, op commons.Operation, payload []byte) commons.Message {
	return commons.Message{
		Type:      commons.DeltaMessage,
		Replica:   r.id,
		Object:    object,
		Operation: op,
		Payload:   payload,
	}
}

func (r *Replica) editsDelta(o *Objects, amount int) (commons.Message, error) {
	if amount >= 0 {
		o.Edits.Increment(r.id, uint64(amount))
	} else {
		o.Edits.Decrement(r.id, uint64(-amount))
	}
	payload, err := o.Edits.MarshalJSON()
	if err != nil {
		return commons.Message{}, err
	}
	op := commons.Operation{Type: commons.OperationCount, Value: strconv.Itoa(amount)}
	return r.delta(commons.ObjectEdits, op, payload), nil
}

// InsertText inserts text at index, one atom per rune, and returns the
// document and edit counter deltas.
func (r *Replica) InsertText(ctx context.Context, index int, text string) ([]commons.Message, error) {
	var msgs []commons.Message
	err := r.Do(ctx, func(o *Objects) error {
		if index < 0 || index > o.Doc.Len() {
			return crdt.ErrPositionOutOfBounds
		}

		var ids []crdt.AtomID
		for i, c := range []rune(text) {
			id, err := o.Doc.Insert(index+i, string(c))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil
		}

		payload, err := o.Doc.MarshalDelta(ids...)
		if err != nil {
			return err
		}
		op := commons.Operation{Type: commons.OperationInsert, Position: index, Value: text}
		edits, err := r.editsDelta(o, len(ids))
		if err != nil {
			return err
		}
		msgs = []commons.Message{r.delta(commons.ObjectDoc, op, payload), edits}

		r.log.WithFields(logrus.Fields{"object": commons.ObjectDoc, "position": index}).Debugf("inserted %d characters", len(ids))
		return nil
	})
	return msgs, err
}

// DeleteAt deletes n characters starting at index and returns the document and
// edit counter deltas.
func (r *Replica) DeleteAt(ctx context.Context, index, n int) ([]commons.Message, error) {
	var msgs []commons.Message
	err := r.Do(ctx, func(o *Objects) error {
		if n <= 0 {
			return nil
		}
		if index < 0 || index+n > o.Doc.Len() {
			return crdt.ErrPositionOutOfBounds
		}

		ids := make([]crdt.AtomID, 0, n)
		removed := ""
		values := o.Doc.ToSequence()
		for i := 0; i < n; i++ {
			id, _ := o.Doc.At(index + i)
			ids = append(ids, id)
			removed += values[index+i]
		}
		for _, id := range ids {
			o.Doc.Delete(id)
		}

		payload, err := o.Doc.MarshalDelta(ids...)
		if err != nil {
			return err
		}
		op := commons.Operation{Type: commons.OperationDelete, Position: index, Value: removed}
		edits, err := r.editsDelta(o, -n)
		if err != nil {
			return err
		}
		msgs = []commons.Message{r.delta(commons.ObjectDoc, op, payload), edits}

		r.log.WithFields(logrus.Fields{"object": commons.ObjectDoc, "position": index}).Debugf("deleted %d characters", n)
		return nil
	})
	return msgs, err
}

// Text returns the visible document.
func (r *Replica) Text(ctx context.Context) (string, error) {
	var text string
	err := r.Do(ctx, func(o *Objects) error {
		text = crdt.Content(o.Doc)
		return nil
	})
	return text, err
}

// Version returns the version vector of the document.
func (r *Replica) Version(ctx context.Context) (crdt.VersionVector, error) {
	var v crdt.VersionVector
	err := r.Do(ctx, func(o *Objects) error {
		v = o.Doc.Version()
		return nil
	})
	return v, err
}

// SetTitle overwrites the title and returns its delta.
func (r *Replica) SetTitle(ctx context.Context, title string) (commons.Message, error) {
	var msg commons.Message
	err := r.Do(ctx, func(o *Objects) error {
		o.Title.Set(title)
		payload, err := o.Title.MarshalJSON()
		if err != nil {
			return err
		}
		msg = r.delta(commons.ObjectTitle, commons.Operation{Type: commons.OperationTitle, Value: title}, payload)
		return nil
	})
	return msg, err
}

// Title returns the current title.
func (r *Replica) Title(ctx context.Context) (string, error) {
	var title string
	err := r.Do(ctx, func(o *Objects) error {
		title = o.Title.Get()
		return nil
	})
	return title, err
}

// Join marks name as present and returns the users delta. The message text
// holds the tag minted for this presence, so that it can be retracted on its
// own later.
func (r *Replica) Join(ctx context.Context, name string) (commons.Message, error) {
	var msg commons.Message
	err := r.Do(ctx, func(o *Objects) error {
		tag := o.Users.Add(name)
		payload, err := o.Users.MarshalJSON()
		if err != nil {
			return err
		}
		msg = r.delta(commons.ObjectUsers, commons.Operation{Type: commons.OperationJoin, Value: name}, payload)
		msg.Username = name
		msg.Text = tag.String()
		return nil
	})
	return msg, err
}

// Leave retracts presences of name and returns the users delta. With no tags
// every presence of name observed so far goes; otherwise only the given ones,
// and name stays present if another of its tags is alive.
func (r *Replica) Leave(ctx context.Context, name string, tags ...crdt.Tag) (commons.Message, error) {
	var msg commons.Message
	err := r.Do(ctx, func(o *Objects) error {
		if len(tags) == 0 {
			o.Users.Remove(name)
		} else {
			o.Users.RemoveTags(tags...)
		}
		payload, err := o.Users.MarshalJSON()
		if err != nil {
			return err
		}
		msg = r.delta(commons.ObjectUsers, commons.Operation{Type: commons.OperationLeave, Value: name}, payload)
		msg.Username = name
		return nil
	})
	return msg, err
}

// Users returns the present users.
func (r *Replica) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := r.Do(ctx, func(o *Objects) error {
		users = o.Users.Elements()
		return nil
	})
	return users, err
}

// Edits returns the net number of characters inserted.
func (r *Replica) Edits(ctx context.Context) (int64, error) {
	var n int64
	err := r.Do(ctx, func(o *Objects) error {
		n = o.Edits.Value()
		return nil
	})
	return n, err
}

// Snapshot returns the full state of every object.
func (r *Replica) Snapshot(ctx context.Context) (commons.Snapshot, error) {
	var s commons.Snapshot
	err := r.Do(ctx, func(o *Objects) error {
		var err error
		s, err = snapshot(r.kind, o)
		return err
	})
	return s, err
}

// StateMessages returns one delta message per object carrying its full
// state. Peers merge them like any other delta.
func (r *Replica) StateMessages(ctx context.Context) ([]commons.Message, error) {
	var msgs []commons.Message
	err := r.Do(ctx, func(o *Objects) error {
		s, err := snapshot(r.kind, o)
		if err != nil {
			return err
		}
		for _, name := range commons.Objects {
			state, _ := s.Get(name)
			msgs = append(msgs, r.delta(name, commons.Operation{}, state))
		}
		return nil
	})
	return msgs, err
}

// Apply merges a delta or docSync message and reports whether anything
// changed. Other message types are ignored.
func (r *Replica) Apply(ctx context.Context, msg commons.Message) (bool, error) {
	var changed bool
	err := r.Do(ctx, func(o *Objects) error {
		var err error
		switch msg.Type {
		case commons.DeltaMessage:
			changed, err = r.merge(o, msg.Object, msg.Payload)
		case commons.DocSyncMessage:
			changed, err = r.restore(o, msg.Payload)
		}
		return err
	})
	return changed, err
}

func (r *Replica) merge(o *Objects, name commons.Object, payload []byte) (bool, error) {
	target, err := o.object(name)
	if err != nil {
		return false, err
	}

	before, err := fingerprint(o, name)
	if err != nil {
		return false, err
	}
	if err := mergePayload(target, name, payload); err != nil {
		return false, err
	}
	after, err := fingerprint(o, name)
	if err != nil {
		return false, err
	}

	changed := !before.equal(after)
	r.log.WithFields(logrus.Fields{"object": name, "changed": changed}).Debug("merged delta")
	return changed, nil
}

func (r *Replica) restore(o *Objects, payload []byte) (bool, error) {
	s, err := decodeSnapshot(payload)
	if err != nil {
		return false, err
	}
	if s.Kind != r.kind {
		return false, ErrKindMismatch
	}

	changed := false
	for _, name := range commons.Objects {
		state, _ := s.Get(name)
		if len(state) == 0 {
			continue
		}
		c, err := r.merge(o, name, state)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}
