package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/coderoom/coderoom/internal/sandbox"
	"github.com/coderoom/coderoom/internal/session"
	"github.com/coderoom/coderoom/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // identity verification happens upstream
	},
}

// execIncoming is a message from an execution-path client.
type execIncoming struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Code     string `json:"code,omitempty"`
	Input    string `json:"input,omitempty"`
}

// execUser is the roster entry shape.
type execUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// execOutgoing is a message to an execution-path client.
type execOutgoing struct {
	Type       string     `json:"type"`
	SessionID  string     `json:"sessionId,omitempty"`
	DocumentID string     `json:"documentId,omitempty"`
	Language   string     `json:"language,omitempty"`
	Data       string     `json:"data,omitempty"`
	Message    string     `json:"message,omitempty"`
	Input      string     `json:"input,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	Username   string     `json:"username,omitempty"`
	User       *execUser  `json:"user,omitempty"`
	Users      []execUser `json:"users,omitempty"`
	Waiting    bool       `json:"waiting,omitempty"`
	Error      bool       `json:"error,omitempty"`
}

// execClient is one connection on the execution path.
type execClient struct {
	id       string
	username string
	conn     *websocket.Conn
	mu       sync.Mutex // serializes writes to the connection
}

func (c *execClient) send(msg execOutgoing) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}

// execHub tracks which connections participate in which session.
type execHub struct {
	mu      sync.Mutex
	rosters map[string]map[string]*execClient // sessionID -> connID -> client
}

func newExecHub() *execHub {
	return &execHub{rosters: make(map[string]map[string]*execClient)}
}

func (h *execHub) add(sessionID string, c *execClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roster := h.rosters[sessionID]
	if roster == nil {
		roster = make(map[string]*execClient)
		h.rosters[sessionID] = roster
	}
	roster[c.id] = c
}

func (h *execHub) remove(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roster := h.rosters[sessionID]
	if roster == nil {
		return
	}
	delete(roster, connID)
	if len(roster) == 0 {
		delete(h.rosters, sessionID)
	}
}

func (h *execHub) users(sessionID string) []execUser {
	h.mu.Lock()
	defer h.mu.Unlock()
	var users []execUser
	for _, c := range h.rosters[sessionID] {
		users = append(users, execUser{ID: c.id, Username: c.username})
	}
	return users
}

// broadcast delivers a message to every participant except skipID.
func (h *execHub) broadcast(sessionID string, msg execOutgoing, skipID string) {
	h.mu.Lock()
	clients := make([]*execClient, 0, len(h.rosters[sessionID]))
	for _, c := range h.rosters[sessionID] {
		if c.id != skipID {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.send(msg)
	}
}

func (s *Server) handleExecSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	sess, ok := s.sessions.Session(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	client := &execClient{id: uuid.NewString(), conn: conn}
	joined := false

	defer func() {
		if !joined {
			return
		}
		s.hub.remove(sessionID, client.id)
		s.hub.broadcast(sessionID, execOutgoing{
			Type:  "userLeft",
			User:  &execUser{ID: client.id, Username: client.username},
			Users: s.hub.users(sessionID),
		}, "")
		// In-flight executions outlive the connection on purpose.
	}()

	for {
		var msg execIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if _, ok := err.(*websocket.CloseError); !ok {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		switch msg.Type {
		case "join":
			if joined {
				client.send(execOutgoing{Type: "error", Message: "already joined"})
				continue
			}
			client.username = msg.Username
			s.hub.add(sessionID, client)
			joined = true

			doc, _ := s.sessions.Document(sess.DocumentID)
			reply := execOutgoing{
				Type:       "joined",
				SessionID:  sess.ID,
				DocumentID: sess.DocumentID,
				Users:      s.hub.users(sessionID),
			}
			if doc != nil {
				reply.Language = doc.Language
			}
			client.send(reply)
			s.hub.broadcast(sessionID, execOutgoing{
				Type: "userJoined", UserID: client.id, Username: client.username,
			}, client.id)

		case "execute":
			if !joined {
				client.send(execOutgoing{Type: "error", Message: "join first"})
				continue
			}
			s.startExecution(sess, client, msg.Code)

		case "input":
			if !joined {
				client.send(execOutgoing{Type: "error", Message: "join first"})
				continue
			}
			if s.supervisor.SendInput(sess.ID, msg.Input) {
				s.hub.broadcast(sessionID, execOutgoing{
					Type: "userInput", Input: msg.Input,
					UserID: client.id, Username: client.username,
				}, client.id)
			} else {
				client.send(execOutgoing{Type: "output", Data: "No program is waiting for input.\n"})
			}

		default:
			client.send(execOutgoing{Type: "error", Message: "unknown message type"})
		}
	}
}

// startExecution launches a run through the supervisor and fans its event
// stream out to every session participant.
func (s *Server) startExecution(sess *session.Session, from *execClient, code string) {
	sessionID := sess.ID
	lang := ""
	if doc, ok := s.sessions.Document(sess.DocumentID); ok {
		lang = doc.Language
	}
	s.sessions.SetContent(sess.DocumentID, code) // advisory snapshot

	s.hub.broadcast(sessionID, execOutgoing{
		Type: "executionStarted", UserID: from.id, Username: from.username,
	}, "")

	startedAt := time.Now()
	onEvent := func(ev sandbox.Event) {
		switch ev.Type {
		case sandbox.EventOutput:
			s.hub.broadcast(sessionID, execOutgoing{Type: "output", Data: ev.Data}, "")
		case sandbox.EventInputWait:
			s.hub.broadcast(sessionID, execOutgoing{Type: "waitingForInput", Waiting: true}, "")
		case sandbox.EventFinished:
			s.hub.broadcast(sessionID, execOutgoing{Type: "executionEnded", Error: ev.Err}, "")
			s.recordExecution(sessionID, lang, ev, startedAt)
		}
	}

	req := sandbox.Request{
		SessionID:    sessionID,
		WorkspaceDir: sess.WorkspacePath,
		Language:     lang,
		Source:       code,
	}
	if _, err := s.supervisor.Execute(req, onEvent); err != nil {
		// Launch failures are terminal events for this session only.
		s.hub.broadcast(sessionID, execOutgoing{Type: "output", Data: err.Error() + "\n"}, "")
		s.hub.broadcast(sessionID, execOutgoing{Type: "executionEnded", Error: true}, "")
		s.recordExecution(sessionID, lang, sandbox.Event{Type: sandbox.EventFinished, ExitCode: -1, Err: true}, startedAt)
	}
}

// recordExecution persists a finished run when a store is configured.
func (s *Server) recordExecution(sessionID, lang string, ev sandbox.Event, startedAt time.Time) {
	if s.store == nil {
		return
	}
	rec := &storage.ExecutionRecord{
		ID:         ksuid.New().String(),
		SessionID:  sessionID,
		Language:   lang,
		ExitCode:   ev.ExitCode,
		Failed:     ev.Err,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if err := s.store.SaveExecution(context.Background(), rec); err != nil {
		log.Printf("saving execution record for session %s: %v", sessionID, err)
	}
}
