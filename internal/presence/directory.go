// Package presence manages room membership, global username uniqueness,
// signaling relay, chat history and the periodic liveness sweeps that keep
// the registries consistent with the set of live connections.
package presence

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/segmentio/ksuid"
)

const (
	maxUsernameLen  = 30
	maxMessageLen   = 1000
	historyLimit    = 50
	chatMinInterval = 500 * time.Millisecond
)

// DuplicateConnectionMessage is sent to the older connection before it is
// evicted in favor of a new join with the same username.
const DuplicateConnectionMessage = "You have connected from another location."

// Conn is the directory's view of a live client connection. The server wraps
// the real websocket; tests supply fakes.
type Conn interface {
	ID() string
	// Send delivers one named event with a JSON-marshalable payload.
	Send(event string, data any)
	// Close terminates the connection.
	Close(reason string)
	// Alive reports whether the connection is still usable.
	Alive() bool
}

// ValidationError reports a rejected client payload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// User is one room member, keyed by connection id.
type User struct {
	ID           string
	Username     string
	ConnID       string
	RoomID       string
	Audio        bool
	Video        bool
	LastActivity time.Time
	JoinedAt     time.Time

	lastMessageAt time.Time
}

// UserInfo is the wire shape of a member.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Audio    bool   `json:"audio"`
	Video    bool   `json:"video"`
}

func (u *User) info() UserInfo {
	return UserInfo{ID: u.ConnID, Username: u.Username, Audio: u.Audio, Video: u.Video}
}

// ChatMessage is one immutable chat entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Username  string    `json:"username"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Room holds member connection ids and a bounded chat history. Members and
// users are related by id, not by pointer.
type Room struct {
	ID       string
	Members  map[string]bool // connection ids
	Messages []ChatMessage
}

// usernameRecord is the single source of truth for which connection owns a
// display name.
type usernameRecord struct {
	connID  string
	roomID  string
	updated time.Time
}

// MediaUpdate is a partial media-state change; nil fields are left as-is.
type MediaUpdate struct {
	Audio *bool `json:"audio"`
	Video *bool `json:"video"`
}

// Directory is the presence registry: rooms, users, connections and the
// global username table. All state is mutated under one lock so every
// handler sees a consistent view.
type Directory struct {
	mu        sync.Mutex
	conns     map[string]Conn
	users     map[string]*User // by connection id
	rooms     map[string]*Room
	usernames map[string]usernameRecord
}

// NewDirectory creates an empty presence directory.
func NewDirectory() *Directory {
	return &Directory{
		conns:     make(map[string]Conn),
		users:     make(map[string]*User),
		rooms:     make(map[string]*Room),
		usernames: make(map[string]usernameRecord),
	}
}

// validateUsername rejects empty names and names that look like generated
// connection identifiers, which would otherwise collide with system ids.
func validateUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", &ValidationError{Reason: "username is required"}
	}
	if len(name) > maxUsernameLen || strings.ContainsAny(name, "#|/") {
		return "", &ValidationError{Reason: "invalid username"}
	}
	return name, nil
}

// Join adds the connection to the room under the given display name. A live
// connection elsewhere holding the same name is evicted first, so a username
// never resolves to two connections at any observable instant.
func (d *Directory) Join(roomID string, conn Conn, rawUsername string) (*User, error) {
	name, err := validateUsername(rawUsername)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// A connection joining again leaves its previous registration first,
	// so a re-join behaves as leave-then-join and the old room and
	// username record never outlive it.
	if _, ok := d.users[conn.ID()]; ok {
		d.removeLocked(conn.ID())
	}

	d.disconnectDuplicateLocked(name, conn.ID())

	now := time.Now()
	user := &User{
		ID:           conn.ID(),
		Username:     name,
		ConnID:       conn.ID(),
		RoomID:       roomID,
		LastActivity: now,
		JoinedAt:     now,
	}

	d.conns[conn.ID()] = conn
	d.users[conn.ID()] = user
	d.usernames[name] = usernameRecord{connID: conn.ID(), roomID: roomID, updated: now}

	room := d.rooms[roomID]
	if room == nil {
		room = &Room{ID: roomID, Members: make(map[string]bool)}
		d.rooms[roomID] = room
	}
	room.Members[conn.ID()] = true

	conn.Send("user-list", d.memberListLocked(room))
	history := make([]ChatMessage, len(room.Messages))
	copy(history, room.Messages)
	conn.Send("chat-history", history)

	d.broadcastLocked(room, "user-joined", user.info(), conn.ID())
	return user, nil
}

// disconnectDuplicateLocked force-closes an older connection registered
// under the same name, removes it from its room and clears its record,
// strictly before the competing join proceeds.
func (d *Directory) disconnectDuplicateLocked(name, newConnID string) {
	rec, ok := d.usernames[name]
	if !ok || rec.connID == newConnID {
		return
	}
	if old := d.conns[rec.connID]; old != nil {
		old.Send("error", map[string]string{"message": DuplicateConnectionMessage})
		old.Close(DuplicateConnectionMessage)
	}
	d.removeLocked(rec.connID)
}

// RelaySignal forwards a peer-negotiation payload to one target connection,
// annotated with the sender's identity. Unrecognized senders are dropped
// silently: signaling noise from already-left peers is expected.
func (d *Directory) RelaySignal(fromConnID, targetConnID string, payload map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sender, ok := d.users[fromConnID]
	if !ok {
		return
	}
	target := d.conns[targetConnID]
	if target == nil {
		return
	}

	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out["from"] = fromConnID
	out["fromUsername"] = sender.Username

	target.Send("signal", out)
}

// PostChat validates, stores and broadcasts a chat message. Empty results
// and messages inside the per-user rate window are dropped without error.
func (d *Directory) PostChat(connID, raw string) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return
	}
	if len(content) > maxMessageLen {
		// Back off to a rune boundary so the cut never splits a
		// multi-byte character.
		cut := maxMessageLen
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[connID]
	if !ok {
		return
	}
	room := d.rooms[user.RoomID]
	if room == nil {
		return
	}

	now := time.Now()
	if !user.lastMessageAt.IsZero() && now.Sub(user.lastMessageAt) < chatMinInterval {
		return
	}
	user.lastMessageAt = now
	user.LastActivity = now

	msg := ChatMessage{
		ID:        ksuid.New().String(),
		RoomID:    room.ID,
		Username:  user.Username,
		UserID:    user.ConnID,
		Content:   content,
		Timestamp: now,
	}
	room.Messages = append(room.Messages, msg)
	if len(room.Messages) > historyLimit {
		room.Messages = room.Messages[len(room.Messages)-historyLimit:]
	}

	// Includes the sender.
	d.broadcastLocked(room, "chat", msg, "")
}

// UpdateMedia merges a partial audio/video state change into the user and
// broadcasts the merged state to the other members. Updates carrying
// neither field are dropped.
func (d *Directory) UpdateMedia(connID string, update MediaUpdate) {
	if update.Audio == nil && update.Video == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[connID]
	if !ok {
		return
	}
	room := d.rooms[user.RoomID]
	if room == nil {
		return
	}

	if update.Audio != nil {
		user.Audio = *update.Audio
	}
	if update.Video != nil {
		user.Video = *update.Video
	}
	user.LastActivity = time.Now()

	d.broadcastLocked(room, "media", map[string]any{
		"userId":   user.ConnID,
		"username": user.Username,
		"audio":    user.Audio,
		"video":    user.Video,
	}, connID)
}

// Heartbeat refreshes a connection's activity timestamp.
func (d *Directory) Heartbeat(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[connID]
	if !ok {
		return
	}
	now := time.Now()
	user.LastActivity = now
	if rec, ok := d.usernames[user.Username]; ok && rec.connID == connID {
		rec.updated = now
		d.usernames[user.Username] = rec
	}
}

// LeaveOrDisconnect removes the connection's user from its room, clears its
// username record if it still points here, and broadcasts the departure.
// The repair primitive for sweeps as well: calling it for an unknown
// connection is a no-op.
func (d *Directory) LeaveOrDisconnect(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(connID)
}

// removeLocked is the single removal routine shared by leave, disconnect,
// duplicate eviction and both sweeps. Idempotent.
func (d *Directory) removeLocked(connID string) {
	delete(d.conns, connID)

	user, ok := d.users[connID]
	if !ok {
		// No live user, but a stale username record may still point at
		// this connection; clear it so registry divergence heals.
		for name, rec := range d.usernames {
			if rec.connID == connID {
				delete(d.usernames, name)
			}
		}
		return
	}
	delete(d.users, connID)

	if rec, ok := d.usernames[user.Username]; ok && rec.connID == connID {
		delete(d.usernames, user.Username)
	}

	room := d.rooms[user.RoomID]
	if room == nil {
		return
	}
	delete(room.Members, connID)

	if len(room.Members) == 0 {
		delete(d.rooms, user.RoomID)
		return
	}
	d.broadcastLocked(room, "user-left", map[string]string{
		"id":       user.ConnID,
		"username": user.Username,
	}, "")
}

// broadcastLocked sends an event to every member of the room except skipID.
func (d *Directory) broadcastLocked(room *Room, event string, data any, skipID string) {
	for id := range room.Members {
		if id == skipID {
			continue
		}
		if conn := d.conns[id]; conn != nil {
			conn.Send(event, data)
		}
	}
}

func (d *Directory) memberListLocked(room *Room) []UserInfo {
	list := make([]UserInfo, 0, len(room.Members))
	for id := range room.Members {
		if u := d.users[id]; u != nil {
			list = append(list, u.info())
		}
	}
	return list
}

// RoomMembers returns the current member list of a room.
func (d *Directory) RoomMembers(roomID string) []UserInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	room := d.rooms[roomID]
	if room == nil {
		return nil
	}
	return d.memberListLocked(room)
}

// Stats returns room and connection counts, for logging.
func (d *Directory) Stats() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("%d rooms, %d connections, %d usernames",
		len(d.rooms), len(d.conns), len(d.usernames))
}
