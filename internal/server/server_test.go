package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coderoom/coderoom/internal/config"
	"github.com/coderoom/coderoom/internal/language"
	"github.com/coderoom/coderoom/internal/presence"
	"github.com/coderoom/coderoom/internal/sandbox"
	"github.com/coderoom/coderoom/internal/session"
)

// scriptedExecution replays a fixed event sequence when started.
type scriptedExecution struct {
	sessionID string
	mu        sync.Mutex
	stopped   bool
	inputs    []string
}

func (e *scriptedExecution) SessionID() string { return e.sessionID }

func (e *scriptedExecution) SendInput(text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.inputs = append(e.inputs, text)
	return true
}

func (e *scriptedExecution) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

// scriptedRunner emits the given events asynchronously for every start.
type scriptedRunner struct {
	events []sandbox.Event
}

func (r *scriptedRunner) Start(req sandbox.Request, onEvent sandbox.EventFunc) (sandbox.Execution, error) {
	e := &scriptedExecution{sessionID: req.SessionID}
	events := r.events
	go func() {
		for _, ev := range events {
			onEvent(ev)
		}
	}()
	return e, nil
}

func newTestServer(t *testing.T, runner sandbox.Runner) (*Server, *httptest.Server) {
	t.Helper()
	if runner == nil {
		runner = &scriptedRunner{}
	}
	srv := New(
		&config.Config{},
		language.NewRegistry(),
		session.NewDirectory(t.TempDir()),
		sandbox.NewSupervisor(runner),
		presence.NewDirectory(),
		nil,
	)
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return srv, ts
}

func createTestSession(t *testing.T, ts *httptest.Server, lang, code string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"language": lang, "code": code})
	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: %s", resp.Status)
	}
	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Session.ID
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t, nil)

	id := createTestSession(t, ts, "python", "print(1)")

	resp, err := http.Get(ts.URL + "/api/sessions/" + id)
	if err != nil {
		t.Fatal(err)
	}
	var got sessionResponse
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got.Document == nil || got.Document.Language != "python" {
		t.Errorf("document = %+v", got.Document)
	}

	// Unknown language is rejected up front.
	body, _ := json.Marshal(map[string]string{"language": "cobol"})
	resp, err = http.Post(ts.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown language: status = %d", resp.StatusCode)
	}

	// Delete twice: ended true, then false.
	for i, want := range []bool{true, false} {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]bool
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if out["ended"] != want {
			t.Errorf("delete #%d: ended = %v, want %v", i+1, out["ended"], want)
		}
	}
}

func TestListLanguages(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/languages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var langs []languageInfo
	if err := json.NewDecoder(resp.Body).Decode(&langs); err != nil {
		t.Fatal(err)
	}
	if len(langs) == 0 {
		t.Fatal("expected built-in languages")
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readExecEvent(t *testing.T, conn *websocket.Conn) execOutgoing {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev execOutgoing
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return ev
}

func TestExecuteStreamsOutputToSession(t *testing.T) {
	runner := &scriptedRunner{events: []sandbox.Event{
		{Type: sandbox.EventOutput, Data: "1\n"},
		{Type: sandbox.EventFinished, ExitCode: 0},
	}}
	_, ts := newTestServer(t, runner)

	id := createTestSession(t, ts, "python", "print(1)")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/sessions/"+id+"/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.WriteJSON(map[string]string{"type": "join", "username": "alice"})
	if ev := readExecEvent(t, conn); ev.Type != "joined" || ev.SessionID != id {
		t.Fatalf("first event = %+v, want joined", ev)
	}

	conn.WriteJSON(map[string]string{"type": "execute", "code": "print(1)"})

	var types []string
	var output strings.Builder
	for {
		ev := readExecEvent(t, conn)
		types = append(types, ev.Type)
		if ev.Type == "output" {
			output.WriteString(ev.Data)
		}
		if ev.Type == "executionEnded" {
			if ev.Error {
				t.Error("execution should end cleanly")
			}
			break
		}
	}

	if types[0] != "executionStarted" {
		t.Errorf("event order = %v, want executionStarted first", types)
	}
	if output.String() != "1\n" {
		t.Errorf("output = %q, want %q", output.String(), "1\n")
	}
}

func TestInputWithoutRunningProgram(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id := createTestSession(t, ts, "python", "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/sessions/"+id+"/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.WriteJSON(map[string]string{"type": "join", "username": "alice"})
	readExecEvent(t, conn) // joined

	conn.WriteJSON(map[string]string{"type": "input", "input": "hello"})
	ev := readExecEvent(t, conn)
	if ev.Type != "output" || !strings.Contains(ev.Data, "input") {
		t.Errorf("event = %+v, want explanatory output", ev)
	}
}

type roomTestEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readRoomEvent(t *testing.T, conn *websocket.Conn) (roomTestEvent, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev roomTestEvent
	if err := conn.ReadJSON(&ev); err != nil {
		return roomTestEvent{}, false
	}
	return ev, true
}

func sendRoomEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, _ := json.Marshal(data)
	if err := conn.WriteJSON(roomTestEvent{Event: event, Data: payload}); err != nil {
		t.Fatal(err)
	}
}

func TestRoomJoinAndDuplicateEviction(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/rooms/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	sendRoomEvent(t, a, "join-room", map[string]string{"roomId": "r1", "username": "bob"})
	if ev, ok := readRoomEvent(t, a); !ok || ev.Event != "user-list" {
		t.Fatalf("first event = %+v, want user-list", ev)
	}
	if ev, ok := readRoomEvent(t, a); !ok || ev.Event != "chat-history" {
		t.Fatalf("second event = %+v, want chat-history", ev)
	}

	// Second connection with the same name evicts the first.
	b, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/rooms/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	sendRoomEvent(t, b, "join-room", map[string]string{"roomId": "r1", "username": "bob"})

	ev, ok := readRoomEvent(t, a)
	if !ok || ev.Event != "error" {
		t.Fatalf("evicted connection got %+v, want error", ev)
	}
	var errData map[string]string
	json.Unmarshal(ev.Data, &errData)
	if errData["message"] != presence.DuplicateConnectionMessage {
		t.Errorf("message = %q", errData["message"])
	}
	// The old connection is closed by the server.
	if _, ok := readRoomEvent(t, a); ok {
		t.Error("evicted connection should be closed")
	}

	listEv, ok := readRoomEvent(t, b)
	if !ok || listEv.Event != "user-list" {
		t.Fatalf("new connection got %+v, want user-list", listEv)
	}
	var list []presence.UserInfo
	json.Unmarshal(listEv.Data, &list)
	if len(list) != 1 || list[0].Username != "bob" {
		t.Errorf("user-list = %+v, want exactly one bob", list)
	}
}

func TestRoomInvalidUsernameClosesConnection(t *testing.T) {
	_, ts := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/rooms/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendRoomEvent(t, conn, "join-room", map[string]string{"roomId": "r1", "username": "   "})

	ev, ok := readRoomEvent(t, conn)
	if !ok || ev.Event != "error" {
		t.Fatalf("got %+v, want error", ev)
	}
	if _, ok := readRoomEvent(t, conn); ok {
		t.Error("connection should be closed after invalid join")
	}
}
