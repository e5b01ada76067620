package remote

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// ShellDialer runs jobs on the validating host through "sh -c". Host, user and
// credentials of the job are ignored. Output streaming and the verdict rule are
// the same as for SSH.
type ShellDialer struct {
	Shell string
}

// NewShellDialer returns a dialer that uses /bin/sh.
func NewShellDialer() *ShellDialer {
	return &ShellDialer{Shell: "sh"}
}

func (d *ShellDialer) Dial(context.Context, Job) (Session, error) {
	shell := d.Shell
	if shell == "" {
		shell = "sh"
	}
	return &shellSession{shell: shell}, nil
}

type shellSession struct {
	shell string
	proc  *process
}

// Exec starts the command in a shell; stdout is streamed to the caller and
// stderr goes to stderr.
func (s *shellSession) Exec(ctx context.Context, command string, stderr io.Writer) (io.ReadCloser, error) {
	if s.proc != nil {
		return nil, errors.New("session already used")
	}
	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.Stdin = nil
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	s.proc = &process{cmd: cmd, out: out}
	return s.proc, nil
}

func (s *shellSession) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.Close()
}

// process reads the command's stdout. Close kills a command that is still
// running and reaps it; its exit status is discarded.
type process struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
}

func (p *process) Read(b []byte) (int, error) { return p.out.Read(b) }

func (p *process) Close() error {
	p.once.Do(func() {
		_ = p.out.Close()
		if p.cmd.ProcessState == nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	})
	return nil
}
