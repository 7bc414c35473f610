package replica

import (
	"encoding/json"

	"github.com/burntcarrot/convergent/commons"
	"github.com/burntcarrot/convergent/crdt"
	"github.com/pkg/errors"
)

func snapshot(kind crdt.Kind, o *Objects) (commons.Snapshot, error) {
	s := commons.Snapshot{Kind: kind}
	for _, name := range commons.Objects {
		target, err := o.object(name)
		if err != nil {
			return s, err
		}
		state, err := target.MarshalJSON()
		if err != nil {
			return s, errors.Wrapf(err, "encode %s", name)
		}
		s.Set(name, state)
	}
	return s, nil
}

// EncodeSnapshot returns the payload of a docSync message.
func EncodeSnapshot(s commons.Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	return data, errors.Wrap(err, "encode snapshot")
}

func decodeSnapshot(payload []byte) (commons.Snapshot, error) {
	var s commons.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return s, errors.Wrap(err, "decode snapshot")
	}
	return s, nil
}

func mergePayload(target crdt.Replicated, name commons.Object, payload []byte) error {
	return errors.Wrapf(target.MergeJSON(payload), "merge %s", name)
}

// digest is a cheap summary of an object used to tell whether a merge changed
// anything. The document is summarized by its version vector and visible
// length; the other objects are small enough to compare encoded.
type digest struct {
	version crdt.VersionVector
	length  int
	state   string
}

func fingerprint(o *Objects, name commons.Object) (digest, error) {
	if name == commons.ObjectDoc {
		return digest{version: o.Doc.Version(), length: o.Doc.Len()}, nil
	}
	target, err := o.object(name)
	if err != nil {
		return digest{}, err
	}
	state, err := target.MarshalJSON()
	if err != nil {
		return digest{}, errors.Wrapf(err, "encode %s", name)
	}
	return digest{state: string(state)}, nil
}

func (d digest) equal(other digest) bool {
	return d.version.Compare(other.version) == crdt.Equal &&
		d.length == other.length &&
		d.state == other.state
}
