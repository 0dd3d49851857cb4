package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirectory_CreateAndLookup(t *testing.T) {
	d := NewDirectory(t.TempDir())

	sess, doc, err := d.Create("python", "print(1)")
	if err != nil {
		t.Fatal(err)
	}
	if sess.DocumentID != doc.ID || doc.SessionID != sess.ID {
		t.Error("session and document must reference each other")
	}
	if doc.Language != "python" || doc.Content != "print(1)" {
		t.Errorf("document = %+v", doc)
	}

	if info, err := os.Stat(sess.WorkspacePath); err != nil || !info.IsDir() {
		t.Fatalf("workspace not created: %v", err)
	}

	got, ok := d.Session(sess.ID)
	if !ok || got != sess {
		t.Error("session lookup failed")
	}
	gotDoc, ok := d.Document(doc.ID)
	if !ok || gotDoc.ID != doc.ID || gotDoc.Content != doc.Content {
		t.Error("document lookup failed")
	}

	if _, ok := d.Session("nope"); ok {
		t.Error("unknown session should not resolve")
	}
}

func TestDirectory_CreateFailsWithoutPartialState(t *testing.T) {
	// A file where the workspace root should be makes MkdirAll fail.
	root := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDirectory(root)
	_, _, err := d.Create("python", "print(1)")
	if err == nil {
		t.Fatal("expected workspace creation to fail")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) != 0 || len(d.documents) != 0 {
		t.Error("failed create must not leave partial registrations")
	}
}

func TestDirectory_SetContent(t *testing.T) {
	d := NewDirectory(t.TempDir())
	_, doc, err := d.Create("python", "print(1)")
	if err != nil {
		t.Fatal(err)
	}

	if !d.SetContent(doc.ID, "print(2)") {
		t.Fatal("SetContent should succeed for a live document")
	}
	got, _ := d.Document(doc.ID)
	if got.Content != "print(2)" {
		t.Errorf("content = %q, want updated snapshot", got.Content)
	}

	// Lookups hand out copies; mutating one must not leak back.
	got.Content = "tampered"
	again, _ := d.Document(doc.ID)
	if again.Content != "print(2)" {
		t.Error("document lookup must not expose shared state")
	}

	if d.SetContent("nope", "x") {
		t.Error("SetContent for an unknown document should report false")
	}
}

func TestDirectory_EndIsIdempotent(t *testing.T) {
	d := NewDirectory(t.TempDir())
	sess, _, err := d.Create("python", "")
	if err != nil {
		t.Fatal(err)
	}

	if !d.End(sess.ID) {
		t.Error("first End should report true")
	}
	if _, err := os.Stat(sess.WorkspacePath); !os.IsNotExist(err) {
		t.Error("workspace should be removed")
	}
	if _, ok := d.Session(sess.ID); ok {
		t.Error("ended session should be gone")
	}
	if _, ok := d.Document(sess.DocumentID); ok {
		t.Error("ended session's document should be gone")
	}

	if d.End(sess.ID) {
		t.Error("second End should report false")
	}
}

func TestDirectory_EndSurvivesRemovalError(t *testing.T) {
	d := NewDirectory(t.TempDir())
	sess, _, err := d.Create("python", "")
	if err != nil {
		t.Fatal(err)
	}
	// Make the workspace path invalid for RemoveAll by swapping it for a
	// path that cannot exist; End must still succeed.
	sess.WorkspacePath = string([]byte{0})
	if !d.End(sess.ID) {
		t.Error("End should succeed despite removal errors")
	}
}

func TestDirectory_CloseAll(t *testing.T) {
	d := NewDirectory(t.TempDir())
	a, _, _ := d.Create("python", "")
	b, _, _ := d.Create("ruby", "")

	d.CloseAll()

	if _, ok := d.Session(a.ID); ok {
		t.Error("sessions should be gone after CloseAll")
	}
	if _, ok := d.Session(b.ID); ok {
		t.Error("sessions should be gone after CloseAll")
	}
}
