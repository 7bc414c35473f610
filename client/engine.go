package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/burntcarrot/convergent/commons"
	"github.com/burntcarrot/convergent/replica"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoSiteID is returned when the server does not open the session with a
// SiteID message.
var ErrNoSiteID = errors.New("server did not assign a replica ID")

type (
	// remoteMsg is a message read from the server.
	remoteMsg commons.Message

	// connClosedMsg reports that the connection to the server is gone.
	connClosedMsg struct{ err error }
)

// session ties the local replica to the server connection.
type session struct {
	conn    *websocket.Conn
	replica *replica.Replica
	file    string
	log     *logrus.Logger

	// Serializes writes; only listen reads.
	mu sync.Mutex
}

func newSession(conn *websocket.Conn, r *replica.Replica, file string, log *logrus.Logger) *session {
	return &session{conn: conn, replica: r, file: file, log: log}
}

// handshake reads the SiteID message the server sends first on every
// connection.
func handshake(conn *websocket.Conn) (commons.Message, error) {
	var msg commons.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return msg, errors.Wrap(err, "read replica ID")
	}
	if msg.Type != commons.SiteIDMessage || msg.Replica == "" {
		return msg, ErrNoSiteID
	}
	return msg, nil
}

func (s *session) send(msgs ...commons.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		if err := s.conn.WriteJSON(msg); err != nil {
			return errors.Wrapf(err, "send %s", msg.Type)
		}
	}
	return nil
}

// join announces name, marks it present and asks for the current document.
func (s *session) join(ctx context.Context, name string) error {
	delta, err := s.replica.Join(ctx, name)
	if err != nil {
		return err
	}
	return s.send(
		commons.Message{Type: commons.JoinMessage, Username: name, Text: "has joined the session."},
		delta,
		commons.Message{Type: commons.DocReqMessage},
	)
}

// insert inserts text into the local document and ships the deltas.
func (s *session) insert(ctx context.Context, index int, text string) error {
	s.log.WithField("position", index).Infof("local insert: %q", text)

	msgs, err := s.replica.InsertText(ctx, index, text)
	if err != nil {
		return err
	}
	return s.send(msgs...)
}

// delete deletes the character at index and ships the deltas.
func (s *session) delete(ctx context.Context, index int) error {
	s.log.WithField("position", index).Info("local delete")

	msgs, err := s.replica.DeleteAt(ctx, index, 1)
	if err != nil {
		return err
	}
	return s.send(msgs...)
}

// setTitle retitles the document and ships the delta.
func (s *session) setTitle(ctx context.Context, title string) error {
	s.log.Infof("local title: %q", title)

	msg, err := s.replica.SetTitle(ctx, title)
	if err != nil {
		return err
	}
	return s.send(msg)
}

// presence lists the names held by the replicated presence set.
func (s *session) presence(ctx context.Context) ([]string, error) {
	users, err := s.replica.Users(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}

// save writes the replica snapshot to the session file.
func (s *session) save(ctx context.Context) error {
	snapshot, err := s.replica.Snapshot(ctx)
	if err != nil {
		return err
	}
	payload, err := replica.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(s.file, payload, 0644), "save %s", s.file)
}

// load merges the session file into the replica and ships the merged state
// so that everyone else sees it too.
func (s *session) load(ctx context.Context) error {
	payload, err := os.ReadFile(s.file)
	if err != nil {
		return errors.Wrapf(err, "load %s", s.file)
	}
	if _, err := s.replica.Apply(ctx, commons.Message{Type: commons.DocSyncMessage, Payload: payload}); err != nil {
		return errors.Wrapf(err, "load %s", s.file)
	}

	msgs, err := s.replica.StateMessages(ctx)
	if err != nil {
		return err
	}
	return s.send(msgs...)
}

// handleMsg merges msg into the replica. It reports whether the document may
// have changed and returns a line for the status bar, if msg deserves one.
func (s *session) handleMsg(ctx context.Context, msg commons.Message) (bool, string, error) {
	logger := s.log.WithFields(logrus.Fields{"type": msg.Type, "object": msg.Object, "from": msg.Replica})

	switch msg.Type {
	case commons.DocSyncMessage, commons.DeltaMessage:
		changed, err := s.replica.Apply(ctx, msg)
		if err != nil {
			return false, "", err
		}
		logger.WithField("changed", changed).Info("merged remote state")
		if changed && msg.Object == commons.ObjectTitle {
			title, err := s.replica.Title(ctx)
			if err != nil {
				return false, "", err
			}
			return false, fmt.Sprintf("title is now %q", title), nil
		}
		return changed && (msg.Type == commons.DocSyncMessage || msg.Object == commons.ObjectDoc), "", nil

	case commons.JoinMessage:
		return false, fmt.Sprintf("%s has joined the session!", msg.Username), nil

	case commons.LeaveMessage:
		return false, fmt.Sprintf("%s has left the session.", msg.Username), nil

	case commons.UsersMessage:
		if msg.Text == "" {
			return false, "no one else is here", nil
		}
		return false, "online: " + strings.ReplaceAll(msg.Text, ",", ", "), nil
	}

	logger.Debug("ignoring message")
	return false, "", nil
}

// listen reads messages from the connection and hands them to send until
// the connection fails.
func (s *session) listen(send func(tea.Msg)) {
	for {
		var msg commons.Message

		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Error("websocket error")
			}
			send(connClosedMsg{err: err})
			return
		}

		s.log.WithFields(logrus.Fields{"type": msg.Type, "object": msg.Object}).Debug("message received")
		send(remoteMsg(msg))
	}
}
