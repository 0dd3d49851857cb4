// Package session owns session and document lifecycle: creation, lookup and
// teardown, including each session's on-disk workspace.
package session

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one ephemeral execution session. It owns its workspace
// directory; ending the session removes the directory.
type Session struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"documentId"`
	WorkspacePath string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Document is the advisory snapshot of a session's source. Authoritative
// content lives in the external sync service.
type Document struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Language  string `json:"language"`
	SessionID string `json:"sessionId"`
}

// Directory tracks live sessions and their documents.
type Directory struct {
	root string

	mu        sync.Mutex
	sessions  map[string]*Session
	documents map[string]*Document
}

// NewDirectory creates a directory whose session workspaces live under root.
func NewDirectory(root string) *Directory {
	return &Directory{
		root:      root,
		sessions:  make(map[string]*Session),
		documents: make(map[string]*Document),
	}
}

// Create allocates a new session with a document for the given language and
// initial code, plus a dedicated workspace directory. A workspace creation
// failure aborts the whole operation; nothing is registered.
func (d *Directory) Create(languageID, initialCode string) (*Session, *Document, error) {
	sessionID := uuid.NewString()
	workspace := filepath.Join(d.root, sessionID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating workspace: %w", err)
	}

	doc := &Document{
		ID:        uuid.NewString(),
		Content:   initialCode,
		Language:  languageID,
		SessionID: sessionID,
	}
	sess := &Session{
		ID:            sessionID,
		DocumentID:    doc.ID,
		WorkspacePath: workspace,
		CreatedAt:     time.Now(),
	}

	d.mu.Lock()
	d.sessions[sess.ID] = sess
	stored := *doc
	d.documents[doc.ID] = &stored
	d.mu.Unlock()

	return sess, doc, nil
}

// Session returns a session by id.
func (d *Directory) Session(id string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Document returns a copy of a document by id. Callers never share the
// stored value, so reads and content updates cannot race.
func (d *Directory) Document(id string) (*Document, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.documents[id]
	if !ok {
		return nil, false
	}
	c := *doc
	return &c, true
}

// SetContent replaces a document's advisory content snapshot. Returns false
// when the document is gone.
func (d *Directory) SetContent(id, content string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.documents[id]
	if !ok {
		return false
	}
	doc.Content = content
	return true
}

// End tears down a session: the workspace is removed best-effort (a removal
// error is logged, never raised) and the session and its document are
// deleted. Returns false when the session is already gone.
func (d *Directory) End(id string) bool {
	d.mu.Lock()
	sess, ok := d.sessions[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.sessions, id)
	delete(d.documents, sess.DocumentID)
	d.mu.Unlock()

	if err := os.RemoveAll(sess.WorkspacePath); err != nil {
		log.Printf("session %s: removing workspace: %v", id, err)
	}
	return true
}

// CloseAll ends every live session, used on shutdown.
func (d *Directory) CloseAll() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.End(id)
	}
}
