package transcode

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// RunningProcess is the minimal surface the manager needs from a launched
// transcoding tool. Keeping the invocation behind this interface makes the
// tool swappable and the manager testable without ffmpeg on the machine.
type RunningProcess interface {
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Signal(sig os.Signal) error
	Kill() error
	Wait() error
}

// Launcher starts a transcoding tool invocation.
type Launcher interface {
	Launch(name string, args []string) (RunningProcess, error)
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }

type execLauncher struct{}

func (execLauncher) Launch(name string, args []string) (RunningProcess, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

const stderrTailLimit = 8 * 1024

// Process is the caller-facing view of one live transcode: a typed handle
// whose output is piped to an HTTP response. Done closes once the underlying
// tool has exited; Terminate is the graceful stop, Kill the forceful one.
type Process interface {
	Stdout() io.ReadCloser
	Done() <-chan struct{}
	Err() error
	StderrTail() string
	Terminate()
	Kill()
}

// Handle is the manager's view of one live transcode. Output is consumed via
// Stdout; Done closes once the process has exited and Err holds the exit
// error. StderrTail keeps the last chunk of tool diagnostics for logging.
type Handle struct {
	ID         string
	Generation uint64

	proc RunningProcess
	done chan struct{}

	mu         sync.Mutex
	waitErr    error
	stderrTail bytes.Buffer
	signalled  bool
}

// Stdout returns the live output of the transcoding tool.
func (h *Handle) Stdout() io.ReadCloser { return h.proc.Stdout() }

// Done closes when the underlying process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the process exit error once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// StderrTail returns the captured tail of the tool's diagnostic output.
func (h *Handle) StderrTail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stderrTail.String()
}

// Terminate sends a graceful termination signal, once. Signalling an
// already-exited process is treated as success.
func (h *Handle) Terminate() {
	h.mu.Lock()
	already := h.signalled
	h.signalled = true
	h.mu.Unlock()
	if already {
		return
	}
	_ = h.proc.Signal(syscall.SIGTERM)
}

// Kill forcefully stops the process.
func (h *Handle) Kill() {
	_ = h.proc.Kill()
}

func (h *Handle) collectStderr() {
	stderr := h.proc.Stderr()
	if stderr == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			h.mu.Lock()
			if h.stderrTail.Len()+n > stderrTailLimit {
				h.stderrTail.Reset()
			}
			h.stderrTail.Write(buf[:n])
			h.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}
