package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hup-social/connect/internal/match"
	"github.com/hup-social/connect/internal/models"
	"github.com/hup-social/connect/internal/signal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// clientFrame is what a browser client sends on the connect socket.
type clientFrame struct {
	Op     string          `json:"op"` // search | cancel | signal | end
	Intent string          `json:"intent,omitempty"`
	Msg    *signal.Message `json:"msg,omitempty"`
	Reason string          `json:"reason,omitempty"` // end: "next" | "stop"
}

// serverFrame is what the server pushes back.
type serverFrame struct {
	Op    string          `json:"op"` // searching | match | signal | ended | error
	Match *models.Match   `json:"match,omitempty"`
	Msg   *signal.Message `json:"msg,omitempty"`
	Error string          `json:"error,omitempty"`
}

// client is one WebSocket client on the connect endpoint. The server
// runs the matchmaker on its behalf and relays signaling frames over the
// shared channel, so two clients on different instances still pair.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	api  *API

	mu           sync.Mutex
	match        *models.Match
	sub          signal.Subscription
	pending      *match.Pending
	pendingDone  chan struct{}
	messageCount int
}

// HandleConnect upgrades an authenticated request onto the connect
// socket.
func (a *API) HandleConnect(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	cl := &client{
		id:   userID.(string),
		conn: conn,
		send: make(chan []byte, 256),
		api:  a,
	}

	log.Printf("Client %s connected", cl.id)

	go cl.writePump()
	cl.readPump()
}

func (cl *client) readPump() {
	defer func() {
		cl.teardown("peer_left", true)
		cl.conn.Close()
		log.Printf("Client %s disconnected", cl.id)
	}()

	cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("Failed to parse frame from %s: %v", cl.id, err)
			continue
		}

		switch frame.Op {
		case "search":
			cl.startSearch(frame.Intent)
		case "cancel":
			cl.cancelSearch()
		case "signal":
			cl.forwardSignal(frame.Msg)
		case "end":
			reason := frame.Reason
			if reason == "" {
				reason = "stop"
			}
			cl.teardown(reason, true)
		default:
			log.Printf("Unknown op %q from %s", frame.Op, cl.id)
		}
	}
}

func (cl *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cl *client) sendFrame(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("Failed to marshal frame: %v", err)
		return
	}
	select {
	case cl.send <- data:
	default:
		log.Printf("Failed to send to client %s, buffer full", cl.id)
	}
}

func (cl *client) startSearch(intent string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.match != nil || cl.pending != nil {
		cl.sendFrame(serverFrame{Op: "error", Error: "search already in progress"})
		return
	}

	ctx := context.Background()
	found, pending, err := cl.api.Matchmaker.Search(ctx, cl.id, intent)
	if err != nil {
		log.Printf("Search failed for %s: %v", cl.id, err)
		cl.sendFrame(serverFrame{Op: "error", Error: "failed to start search"})
		return
	}

	if found != nil {
		cl.establishLocked(*found)
		return
	}

	cl.pending = pending
	done := make(chan struct{})
	cl.pendingDone = done
	cl.sendFrame(serverFrame{Op: "searching"})
	go cl.waitForMatch(pending, done)
}

func (cl *client) waitForMatch(pending *match.Pending, done chan struct{}) {
	timer := time.NewTimer(cl.api.Matchmaker.TTL())
	defer timer.Stop()

	select {
	case m, ok := <-pending.Matches:
		if !ok {
			return
		}
		cl.mu.Lock()
		defer cl.mu.Unlock()
		if cl.pending != pending {
			return
		}
		pending.Stop()
		cl.pending = nil
		cl.pendingDone = nil
		cl.establishLocked(m)

	case <-timer.C:
		cl.mu.Lock()
		defer cl.mu.Unlock()
		if cl.pending != pending {
			return
		}
		pending.Stop()
		cl.pending = nil
		cl.pendingDone = nil
		cl.api.Matchmaker.Cancel(context.Background(), cl.id)
		cl.sendFrame(serverFrame{Op: "error", Error: "no match found"})

	case <-done:
	}
}

// establishLocked subscribes the client to its session topic and starts
// relaying. The initiator side also writes the session record.
func (cl *client) establishLocked(m models.Match) {
	ctx := context.Background()

	sub, err := cl.api.Channel.Subscribe(ctx, m.SessionID)
	if err != nil {
		log.Printf("Subscribe failed for session %s: %v", m.SessionID, err)
		cl.sendFrame(serverFrame{Op: "error", Error: "failed to join session"})
		return
	}

	cl.match = &m
	cl.sub = sub
	cl.messageCount = 0

	if m.IsInitiator {
		record := models.SessionRecord{
			ID:        m.SessionID,
			User1ID:   cl.id,
			User2ID:   m.PeerID,
			StartedAt: time.Now().UTC(),
		}
		if err := cl.api.History.Started(ctx, record); err != nil {
			log.Printf("Failed to store session record %s: %v", m.SessionID, err)
		}
	}

	log.Printf("Client %s matched in session %s (initiator=%v)", cl.id, m.SessionID, m.IsInitiator)
	cl.sendFrame(serverFrame{Op: "match", Match: &m})
	go cl.relayLoop(sub)
}

// relayLoop forwards session messages from the shared channel down the
// client's socket, dropping the client's own echo.
func (cl *client) relayLoop(sub signal.Subscription) {
	for msg := range sub.Messages() {
		if msg.From == cl.id {
			continue
		}

		if msg.Type == signal.TypeBye {
			cl.mu.Lock()
			if cl.sub == sub {
				cl.endSessionLocked("peer_left", false)
				cl.sendFrame(serverFrame{Op: "ended"})
			}
			cl.mu.Unlock()
			return
		}

		if msg.Type == signal.TypeChat {
			cl.mu.Lock()
			cl.messageCount++
			cl.mu.Unlock()
		}

		m := msg
		cl.sendFrame(serverFrame{Op: "signal", Msg: &m})
	}
}

func (cl *client) forwardSignal(msg *signal.Message) {
	if msg == nil {
		return
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.match == nil {
		cl.sendFrame(serverFrame{Op: "error", Error: "no active session"})
		return
	}

	// The server, not the client, decides the sender identity.
	msg.From = cl.id
	if msg.Type == signal.TypeChat {
		cl.messageCount++
	}

	if err := cl.api.Channel.Publish(context.Background(), cl.match.SessionID, *msg); err != nil {
		log.Printf("Publish failed for session %s: %v", cl.match.SessionID, err)
		cl.sendFrame(serverFrame{Op: "error", Error: "failed to send signal"})
	}
}

func (cl *client) cancelSearch() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.pending != nil {
		cl.pending.Stop()
		cl.pending = nil
	}
	if cl.pendingDone != nil {
		close(cl.pendingDone)
		cl.pendingDone = nil
	}
	if err := cl.api.Matchmaker.Cancel(context.Background(), cl.id); err != nil {
		log.Printf("Cancel failed for %s: %v", cl.id, err)
	}
}

// endSessionLocked closes out the current session state. Each step is
// best-effort; notifyPeer controls whether a bye is published first.
func (cl *client) endSessionLocked(reason string, notifyPeer bool) {
	if cl.match == nil {
		return
	}
	ctx := context.Background()

	if notifyPeer {
		err := cl.api.Channel.Publish(ctx, cl.match.SessionID, signal.Message{
			Type: signal.TypeBye,
			From: cl.id,
		})
		if err != nil {
			log.Printf("Bye publish failed for session %s: %v", cl.match.SessionID, err)
		}
	}

	if err := cl.api.History.Ended(ctx, cl.match.SessionID, reason, cl.messageCount); err != nil {
		log.Printf("Failed to close session record %s: %v", cl.match.SessionID, err)
	}

	if cl.sub != nil {
		cl.sub.Close()
		cl.sub = nil
	}
	cl.match = nil
	cl.messageCount = 0
}

// teardown clears any search or session the client holds. Used for the
// explicit end op and for socket disconnect.
func (cl *client) teardown(reason string, notifyPeer bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.pending != nil {
		cl.pending.Stop()
		cl.pending = nil
	}
	if cl.pendingDone != nil {
		close(cl.pendingDone)
		cl.pendingDone = nil
	}
	cl.api.Matchmaker.Cancel(context.Background(), cl.id)
	cl.endSessionLocked(reason, notifyPeer)
}
