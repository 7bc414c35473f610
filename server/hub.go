package main

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/burntcarrot/convergent/commons"
	"github.com/burntcarrot/convergent/crdt"
	"github.com/burntcarrot/convergent/replica"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// client is an active connection.
type client struct {
	conn    *websocket.Conn
	replica crdt.ReplicaID
	name    string
}

// hub relays messages between clients and keeps its own replica of the
// session, which answers document requests from joining clients.
type hub struct {
	replica *replica.Replica
	log     logrus.FieldLogger
	metrics *Metrics

	// Upgrader instance to upgrade all HTTP connections to a WebSocket.
	upgrader websocket.Upgrader

	mu sync.Mutex
	// Map to store currently active client connections.
	activeClients map[uuid.UUID]*client
	// Presence tags each connection added through its join delta. They
	// outlive the connection until its leave is handled.
	joins map[uuid.UUID][]crdt.Tag
	// Number of replica IDs handed out so far.
	sites int

	// Channel for client messages.
	messageChan chan commons.Message
	// Closed once run returns.
	done chan struct{}

	// echo prints relayed messages for whoever runs the server.
	echo bool
}

func newHub(r *replica.Replica, log logrus.FieldLogger, m *Metrics) *hub {
	return &hub{
		replica:       r,
		log:           log,
		metrics:       m,
		activeClients: make(map[uuid.UUID]*client),
		joins:         make(map[uuid.UUID][]crdt.Tag),
		messageChan:   make(chan commons.Message),
		done:          make(chan struct{}),
	}
}

// handleConn handles incoming HTTP connections by assigning a replica ID,
// adding the connection to activeClients and reading messages from it.
func (h *hub) handleConn(w http.ResponseWriter, r *http.Request) {
	// Upgrade incoming HTTP connections to WebSocket connections
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("error upgrading connection to websocket")
		return
	}
	defer conn.Close()

	// Generate a UUID and a replica ID for the client.
	id := uuid.New()
	h.mu.Lock()
	h.sites++
	site := crdt.ReplicaID(strconv.Itoa(h.sites))
	h.mu.Unlock()

	// The connection is not registered yet, so nothing else writes to it.
	siteMsg := commons.Message{Type: commons.SiteIDMessage, Text: string(site), ID: id, Replica: site, Kind: h.replica.Kind()}
	if err := conn.WriteJSON(siteMsg); err != nil {
		h.log.WithError(err).Error("error sending replica ID")
		return
	}

	h.mu.Lock()
	h.activeClients[id] = &client{conn: conn, replica: site}
	h.mu.Unlock()
	h.metrics.Connections.Add(1)

	logger := h.log.WithFields(logrus.Fields{"client": id, "site": site})
	logger.Info("client connected")

	for {
		var msg commons.Message

		// Read message from the connection.
		if err := conn.ReadJSON(&msg); err != nil {
			logger.Info("closing connection")
			break
		}

		// Set message ID.
		msg.ID = id
		if !h.post(msg) {
			return
		}
	}

	h.mu.Lock()
	var name string
	if c, ok := h.activeClients[id]; ok {
		name = c.name
		delete(h.activeClients, id)
	}
	_, joined := h.joins[id]
	h.mu.Unlock()

	if name != "" || joined {
		h.post(commons.Message{Type: commons.LeaveMessage, Username: name, ID: id})
	}
}

// post hands msg to run, giving up once run has returned.
func (h *hub) post(msg commons.Message) bool {
	select {
	case h.messageChan <- msg:
		return true
	case <-h.done:
		return false
	}
}

// run listens to the messageChan channel until ctx is done.
func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case msg := <-h.messageChan:
			h.handleMsg(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleMsg merges deltas into the server replica and broadcasts messages to
// other clients.
func (h *hub) handleMsg(ctx context.Context, msg commons.Message) {
	logger := h.log.WithFields(logrus.Fields{"client": msg.ID, "type": msg.Type})

	switch msg.Type {
	case commons.DocReqMessage:
		h.sendDoc(ctx, msg.ID)

	case commons.DeltaMessage:
		changed, err := h.replica.Apply(ctx, msg)
		if err != nil {
			logger.WithError(err).Warn("dropping undecodable delta")
			return
		}
		if msg.Object == commons.ObjectUsers && msg.Operation.Type == commons.OperationJoin {
			h.recordJoin(msg)
		}
		if !changed {
			h.metrics.Stale.With("object", string(msg.Object)).Add(1)
			logger.WithField("object", msg.Object).Debug("dropping stale delta")
			return
		}
		h.metrics.Merges.With("object", string(msg.Object)).Add(1)
		h.echoMsg(msg)
		h.broadcast(msg, msg.ID)

	case commons.JoinMessage:
		h.mu.Lock()
		if c, ok := h.activeClients[msg.ID]; ok {
			c.name = msg.Username
		}
		h.mu.Unlock()

		h.echoMsg(msg)
		h.broadcast(msg, msg.ID)
		h.broadcastUsers()

	case commons.LeaveMessage:
		// Presence is replicated, so the server retracts the presences the
		// client added. Another connection under the same name keeps its own.
		h.mu.Lock()
		tags := h.joins[msg.ID]
		delete(h.joins, msg.ID)
		h.mu.Unlock()

		if len(tags) > 0 {
			delta, err := h.replica.Leave(ctx, msg.Username, tags...)
			if err != nil {
				logger.WithError(err).Error("failed to record leave")
			} else {
				h.broadcast(delta, msg.ID)
			}
		}
		if msg.Username != "" {
			h.echoMsg(msg)
			h.broadcast(msg, msg.ID)
			h.broadcastUsers()
		}

	default:
		h.echoMsg(msg)
		h.broadcast(msg, msg.ID)
	}
}

// recordJoin remembers the presence tag a join delta carries for its sender.
func (h *hub) recordJoin(msg commons.Message) {
	tag, err := crdt.ParseTag(msg.Text)
	if err != nil {
		h.log.WithError(err).WithField("client", msg.ID).Warn("join delta without a presence tag")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins[msg.ID] = append(h.joins[msg.ID], tag)
}

// sendDoc answers a document request with a snapshot of the server replica.
func (h *hub) sendDoc(ctx context.Context, to uuid.UUID) {
	snapshot, err := h.replica.Snapshot(ctx)
	if err != nil {
		h.log.WithError(err).Error("failed to take snapshot")
		return
	}
	payload, err := replica.EncodeSnapshot(snapshot)
	if err != nil {
		h.log.WithError(err).Error("failed to encode snapshot")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.activeClients[to]
	if !ok {
		return
	}
	h.write(to, c, commons.Message{Type: commons.DocSyncMessage, ID: to, Replica: h.replica.ID(), Payload: payload})
}

// broadcastUsers sends the names of all connected clients to everyone.
func (h *hub) broadcastUsers() {
	h.mu.Lock()
	names := make([]string, 0, len(h.activeClients))
	for _, c := range h.activeClients {
		if c.name != "" {
			names = append(names, c.name)
		}
	}
	h.mu.Unlock()

	sort.Strings(names)
	h.broadcast(commons.Message{Type: commons.UsersMessage, Text: strings.Join(names, ",")}, uuid.Nil)
}

// broadcast sends msg to every active client except its origin.
func (h *hub) broadcast(msg commons.Message, origin uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.activeClients {
		// Check the UUID to prevent sending messages to their origin.
		if id == origin {
			continue
		}
		h.write(id, c, msg)
	}
}

// write must be called with mu held. A failed connection is closed; its
// handleConn notices and unregisters it.
func (h *hub) write(id uuid.UUID, c *client, msg commons.Message) {
	if err := c.conn.WriteJSON(msg); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"client": id, "site": c.replica}).Warn("error sending message to client")
		c.conn.Close()
		return
	}
	h.metrics.Relayed.With("type", string(msg.Type)).Add(1)
}

func (h *hub) echoMsg(msg commons.Message) {
	if !h.echo {
		return
	}

	// Log each message to stdout.
	t := time.Now().Format(time.ANSIC)
	switch msg.Type {
	case commons.DeltaMessage:
		color.Green("%s >> %s %s %q at %d\n", t, msg.Replica, msg.Operation.Type, msg.Operation.Value, msg.Operation.Position)
	case commons.JoinMessage, commons.LeaveMessage:
		color.Yellow("%s >> %s %s\n", t, msg.Username, msg.Type)
	default:
		color.Green("%s >> %s: %s\n", t, msg.Username, msg.Text)
	}
}
