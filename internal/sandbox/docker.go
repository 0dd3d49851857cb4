package sandbox

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/coderoom/coderoom/internal/language"
)

// DockerRunner launches submissions in Docker containers, one container per
// execution, bound read-write to the session workspace only.
type DockerRunner struct {
	Policy    Policy
	registry  *language.Registry
	dockerBin string
}

// NewDockerRunner creates a runner with the given policy and language table.
func NewDockerRunner(policy Policy, registry *language.Registry) *DockerRunner {
	return &DockerRunner{
		Policy:    policy,
		registry:  registry,
		dockerBin: "docker",
	}
}

func (d *DockerRunner) containerName(sessionID string) string {
	return "coderoom-" + sessionID
}

// Start writes the submission into the workspace, launches the container and
// begins streaming its output through onEvent. Chunks are delivered in the
// order the process produced them; the terminal event carries the exit code.
func (d *DockerRunner) Start(req Request, onEvent EventFunc) (Execution, error) {
	spec, ok := d.registry.Resolve(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}
	if !d.Policy.IsImageAllowed(spec.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", spec.Image)
	}

	// Overwrites any previous submission file for the session.
	filename := spec.Filename(req.Source)
	path := filepath.Join(req.WorkspaceDir, filename)
	if err := os.WriteFile(path, []byte(req.Source), 0o644); err != nil {
		return nil, fmt.Errorf("writing submission: %w", err)
	}

	// A preempted run can leave a container with this session's name.
	container := d.containerName(req.SessionID)
	exec.Command(d.dockerBin, "rm", "-f", container).Run()

	args := []string{
		"run", "--rm", "-i",
		"--name", container,
		"--memory", d.Policy.MaxMemory,
		"--cpus", d.Policy.CPUs,
		"--pids-limit", strconv.Itoa(d.Policy.PidsLimit),
		"-v", req.WorkspaceDir + ":/workspace",
		"-w", "/workspace",
	}
	if !d.Policy.Network {
		args = append(args, "--network=none")
	}
	args = append(args, spec.Image)
	args = append(args, spec.CommandFor(req.Source)...)

	cmd := exec.Command(d.dockerBin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("starting sandbox: %w", err)
	}

	e := &dockerExecution{
		sessionID: req.SessionID,
		container: container,
		dockerBin: d.dockerBin,
		cmd:       cmd,
		stdin:     stdin,
		onEvent:   onEvent,
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go e.stream(stdout, &readers)
	go e.stream(stderr, &readers)
	go e.wait(&readers)

	return e, nil
}

// dockerExecution is one live container.
type dockerExecution struct {
	sessionID string
	container string
	dockerBin string
	cmd       *exec.Cmd
	onEvent   EventFunc

	evMu sync.Mutex // serializes onEvent across the two stream readers

	mu      sync.Mutex
	stdin   io.WriteCloser
	stopped bool
	exited  bool
}

func (e *dockerExecution) SessionID() string { return e.sessionID }

func (e *dockerExecution) emit(ev Event) {
	e.evMu.Lock()
	e.onEvent(ev)
	e.evMu.Unlock()
}

func (e *dockerExecution) stream(r io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			e.emit(Event{Type: EventOutput, Data: chunk})
			if looksLikeInputPrompt(chunk) {
				e.emit(Event{Type: EventInputWait})
			}
		}
		if err != nil {
			return
		}
	}
}

func (e *dockerExecution) wait(readers *sync.WaitGroup) {
	readers.Wait()
	err := e.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	e.mu.Lock()
	e.exited = true
	stopped := e.stopped
	if e.stdin != nil {
		e.stdin.Close()
		e.stdin = nil
	}
	e.mu.Unlock()

	if exitCode != 0 && !stopped {
		e.emit(Event{Type: EventOutput, Data: fmt.Sprintf("\nProcess exited with code %d\n", exitCode)})
	}
	e.emit(Event{Type: EventFinished, ExitCode: exitCode, Err: exitCode != 0})
}

// SendInput writes one line to the process's stdin, appending a trailing
// newline if absent. Returns false when the stream is gone.
func (e *dockerExecution) SendInput(text string) bool {
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()
	if stdin == nil {
		return false
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := io.WriteString(stdin, text)
	return err == nil
}

// Stop terminates the container process and removes the container. Safe to
// call more than once; removal is attempted even when the kill fails.
func (e *dockerExecution) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	exited := e.exited
	stdin := e.stdin
	e.stdin = nil
	e.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if !exited && e.cmd.Process != nil {
		if err := e.cmd.Process.Kill(); err != nil {
			log.Printf("sandbox %s: killing process: %v", e.container, err)
		}
	}

	out, err := exec.Command(e.dockerBin, "rm", "-f", e.container).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		log.Printf("sandbox %s: removing container: %v", e.container, err)
	}
}

// looksLikeInputPrompt reports whether a chunk resembles an interactive
// prompt. Best-effort: the substring "input" or a trailing ":" / "? " are
// taken as a request for stdin, which misfires on ordinary output that
// happens to end the same way.
func looksLikeInputPrompt(chunk string) bool {
	if strings.Contains(chunk, "input") {
		return true
	}
	return strings.HasSuffix(chunk, ":") ||
		strings.HasSuffix(chunk, ": ") ||
		strings.HasSuffix(chunk, "? ")
}
