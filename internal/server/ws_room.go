package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coderoom/coderoom/internal/presence"
)

// roomEnvelope is one event on the presence path, both directions.
type roomEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// roomIncoming carries the fields of inbound presence events. Signal
// payloads are relayed from the raw data instead, so unknown negotiation
// fields pass through untouched.
type roomIncoming struct {
	RoomID   string `json:"roomId,omitempty"`
	Username string `json:"username,omitempty"`
	To       string `json:"to,omitempty"`
	Message  string `json:"message,omitempty"`
	Audio    *bool  `json:"audio,omitempty"`
	Video    *bool  `json:"video,omitempty"`
}

// roomConn adapts a websocket connection to presence.Conn.
type roomConn struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newRoomConn(conn *websocket.Conn) *roomConn {
	return &roomConn{id: uuid.NewString(), conn: conn}
}

func (c *roomConn) ID() string { return c.id }

func (c *roomConn) Send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("room websocket marshal error: %v", err)
		return
	}
	msg, err := json.Marshal(roomEnvelope{Event: event, Data: payload})
	if err != nil {
		log.Printf("room websocket marshal error: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Printf("room websocket write error: %v", err)
	}
}

func (c *roomConn) Close(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	c.conn.Close()
}

func (c *roomConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	rc := newRoomConn(conn)
	defer func() {
		s.presence.LeaveOrDisconnect(rc.ID())
		rc.Close("")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && rc.Alive() {
				log.Printf("room websocket read error: %v", err)
			}
			return
		}

		var env roomEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			rc.Send("error", map[string]string{"message": "invalid message"})
			continue
		}
		var msg roomIncoming
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				rc.Send("error", map[string]string{"message": "invalid message"})
				continue
			}
		}

		switch env.Event {
		case "join-room":
			if _, err := s.presence.Join(msg.RoomID, rc, msg.Username); err != nil {
				// Invalid usernames close the connection.
				rc.Send("error", map[string]string{"message": err.Error()})
				rc.Close(err.Error())
				return
			}

		case "signal":
			var payload map[string]any
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				continue
			}
			delete(payload, "to")
			s.presence.RelaySignal(rc.ID(), msg.To, payload)

		case "chat":
			s.presence.PostChat(rc.ID(), msg.Message)

		case "media":
			s.presence.UpdateMedia(rc.ID(), presence.MediaUpdate{Audio: msg.Audio, Video: msg.Video})

		case "heartbeat":
			s.presence.Heartbeat(rc.ID())

		case "leave":
			s.presence.LeaveOrDisconnect(rc.ID())

		default:
			rc.Send("error", map[string]string{"message": "unknown event"})
		}
	}
}
