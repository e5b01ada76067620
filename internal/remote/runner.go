// Package remote triggers a transformation job on a remote host and decides,
// from its streamed console output alone, whether it succeeded.
package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"etlverify/internal/apperr"
	"etlverify/internal/report"
)

// DefaultPort is the SSH port used when a job does not name one.
const DefaultPort = 22

// DefaultReadTimeout bounds the output stream when neither the job nor the
// runner sets a timeout.
const DefaultReadTimeout = time.Hour

// maxLineBytes caps a single evidence line. Longer lines keep their head and
// the rest is drained and counted.
const maxLineBytes = 1 << 20

// Job is a single command to run on a single host.
type Job struct {
	Command       string        `json:"command"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	User          string        `json:"user"`
	Password      string        `json:"-"`
	KeyFile       string        `json:"keyFile,omitempty"`
	KeyPassphrase string        `json:"-"`
	Timeout       time.Duration `json:"timeout"`
}

// Addr returns host:port, defaulting the port to 22.
func (j Job) Addr() string {
	port := j.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(j.Host, strconv.Itoa(port))
}

// Dialer opens an authenticated session to the job's host.
type Dialer interface {
	Dial(ctx context.Context, job Job) (Session, error)
}

// Session is used for exactly one command and then closed.
type Session interface {
	// Exec starts command with stdin suppressed and the remote error stream
	// routed to stderr. Closing the returned reader closes the command channel.
	Exec(ctx context.Context, command string, stderr io.Writer) (io.ReadCloser, error)
	Close() error
}

// Runner executes one job per call. It is safe to reuse a Runner; sessions are
// never shared across calls.
type Runner struct {
	Dialer      Dialer
	Sink        report.Sink
	Logger      *zap.Logger
	Stderr      io.Writer
	ReadTimeout time.Duration
}

// NewRunner creates a runner with the caller's stderr and default timeout.
func NewRunner(d Dialer, sink report.Sink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Dialer:      d,
		Sink:        sink,
		Logger:      logger,
		Stderr:      os.Stderr,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Run executes job.Command and returns the verdict. Connection and
// authentication failures are ConnectionErrors; failures while starting the
// command or reading its output are ExecutionErrors. A job without the
// completion marker is a verdict with Succeeded=false, not an error.
func (r *Runner) Run(ctx context.Context, job Job) (*Verdict, error) {
	logger := r.logger().With(zap.String("host", job.Addr()), zap.String("user", job.User))
	if strings.TrimSpace(job.Command) == "" {
		return nil, apperr.Execution("remote job", errors.New("command is empty"))
	}

	sess, err := r.Dialer.Dial(ctx, job)
	if err != nil {
		report.Emit(ctx, r.Sink, logger, "Remote Connection Error",
			fmt.Sprintf("Error connecting to %s as %s: %v", job.Addr(), job.User, err))
		if apperr.KindOf(err) == "" {
			err = apperr.Connection("dial "+job.Addr(), err)
		}
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Debug("session close", zap.Error(cerr))
		}
	}()
	logger.Info("connected")
	report.Emit(ctx, r.Sink, logger, "Remote Connection", "Connected to "+job.Addr()+" as "+job.User)

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = r.ReadTimeout
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stderr := r.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	out, err := sess.Exec(runCtx, job.Command, stderr)
	if err != nil {
		report.Emit(ctx, r.Sink, logger, "Remote Command Error",
			fmt.Sprintf("Error starting %q: %v", job.Command, err))
		return nil, apperr.Execution("start command", err)
	}
	defer out.Close()

	lines, err := r.stream(runCtx, out, logger)
	report.Emit(ctx, r.Sink, logger, "Remote Command Execution", executionEvidence(job.Command, lines))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no end of output within %s: %w", timeout, err)
		}
		return nil, apperr.Execution("read output", err)
	}

	v := Judge(lines)
	if v.Succeeded {
		logger.Info("Spark Job Ran Successfully", zap.Int("lines", len(lines)))
		report.Emit(ctx, r.Sink, logger, "Remote Job Verdict", "Spark Job Ran Successfully")
	} else {
		logger.Error(v.FailureReason, zap.Int("lines", len(lines)))
		report.Emit(ctx, r.Sink, logger, "Remote Job Verdict", v.FailureReason)
	}
	return v, nil
}

// stream reads out line by line until it closes or ctx expires. Lines are
// numbered from 1 in arrival order; a line over maxLineBytes is truncated and
// reading continues with the next one.
func (r *Runner) stream(ctx context.Context, out io.ReadCloser, logger *zap.Logger) ([]string, error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(out, 64*1024)
		for {
			line, dropped, err := readLine(br, maxLineBytes)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				errc <- err
				return
			}
			if dropped > 0 {
				line = fmt.Sprintf("%s ...[%d bytes truncated]", line, dropped)
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var evidence []string
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return evidence, err
				default:
					return evidence, ctx.Err()
				}
			}
			evidence = append(evidence, line)
			logger.Info(line, zap.Int("seq", len(evidence)))
		case <-ctx.Done():
			// unblocks the reader
			_ = out.Close()
			return evidence, ctx.Err()
		}
	}
}

// readLine returns the next line without its terminator, keeping at most limit
// bytes. The rest of an overlong line is consumed and its size returned as
// dropped. A final line without a newline is still returned; io.EOF comes
// after it.
func readLine(br *bufio.Reader, limit int) (line string, dropped int, err error) {
	var buf []byte
	for {
		frag, rerr := br.ReadSlice('\n')
		n := len(frag)
		if rerr == nil {
			n--
		}
		keep := min(n, limit-len(buf))
		buf = append(buf, frag[:keep]...)
		dropped += n - keep

		switch {
		case rerr == nil:
			return strings.TrimSuffix(string(buf), "\r"), dropped, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF) && (len(buf) > 0 || dropped > 0):
			return strings.TrimSuffix(string(buf), "\r"), dropped, nil
		default:
			return "", 0, rerr
		}
	}
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func executionEvidence(command string, lines []string) string {
	var b strings.Builder
	b.WriteString("Executed command: " + command + "\n")
	for i, l := range lines {
		fmt.Fprintf(&b, "%d : %s\n", i+1, l)
	}
	return b.String()
}
