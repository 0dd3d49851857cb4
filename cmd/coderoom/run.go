package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	serverFlag   string
	langFlag     string
	usernameFlag string
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a source file against a coderoom server",
	Long: `Create a session on a coderoom server, execute the given source file in
a sandbox and stream its output. Typed lines are forwarded to the program's
stdin, so interactive programs work.

Examples:
  coderoom run hello.py
  coderoom run --lang python --server http://remote:8080 hello.py`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&serverFlag, "server", "http://localhost:8080", "coderoom server base URL")
	runCmd.Flags().StringVar(&langFlag, "lang", "", "language id (default: guessed from the file extension)")
	runCmd.Flags().StringVar(&usernameFlag, "as", "cli", "display name for this run")
	rootCmd.AddCommand(runCmd)
}

// extensionLanguages guesses a language id from a filename.
var extensionLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".rb":   "ruby",
	".go":   "go",
	".java": "java",
	".c":    "c",
	".cpp":  "cpp",
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	lang := langFlag
	if lang == "" {
		lang = extensionLanguages[filepath.Ext(path)]
	}
	if lang == "" {
		return fmt.Errorf("cannot guess language for %s, use --lang", path)
	}

	sessionID, err := createSession(serverFlag, lang, string(code))
	if err != nil {
		return err
	}
	defer deleteSession(serverFlag, sessionID)

	conn, err := dialSession(serverFlag, sessionID)
	if err != nil {
		return err
	}
	defer conn.Close()

	send := func(v any) error { return conn.WriteJSON(v) }
	if err := send(map[string]string{"type": "join", "username": usernameFlag}); err != nil {
		return fmt.Errorf("joining session: %w", err)
	}
	if err := send(map[string]string{"type": "execute", "code": string(code)}); err != nil {
		return fmt.Errorf("starting execution: %w", err)
	}

	// Stream events until the execution ends; readline feeds stdin lines.
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "",
		InterruptPrompt: "^C",
		EOFPrompt:       "eof",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	done := make(chan error, 1)
	go func() { done <- streamEvents(conn, rl) }()

	go func() {
		for {
			line, err := rl.Readline()
			if err != nil {
				return // interrupt or EOF; the event stream decides when to exit
			}
			conn.WriteJSON(map[string]string{"type": "input", "input": line})
		}
	}()

	return <-done
}

// streamEvents prints the execution event stream until it terminates.
func streamEvents(conn *websocket.Conn, rl *readline.Instance) error {
	type event struct {
		Type    string `json:"type"`
		Data    string `json:"data"`
		Message string `json:"message"`
		Error   bool   `json:"error"`
	}
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		switch ev.Type {
		case "output":
			fmt.Print(ev.Data)
		case "waitingForInput":
			rl.SetPrompt("> ")
			rl.Refresh()
		case "executionEnded":
			if ev.Error {
				return fmt.Errorf("execution failed")
			}
			return nil
		case "error":
			return fmt.Errorf("%s", ev.Message)
		}
	}
}

func createSession(base, lang, code string) (string, error) {
	body, _ := json.Marshal(map[string]string{"language": lang, "code": code})
	resp, err := http.Post(base+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("creating session: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var out struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding session: %w", err)
	}
	return out.Session.ID, nil
}

func deleteSession(base, id string) {
	req, err := http.NewRequest(http.MethodDelete, base+"/api/sessions/"+id, nil)
	if err != nil {
		return
	}
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
	}
}

func dialSession(base, id string) (*websocket.Conn, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/sessions/" + id + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing session: %w", err)
	}
	return conn, nil
}
