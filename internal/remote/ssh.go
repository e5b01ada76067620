package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"etlverify/internal/apperr"
)

// SSHDialer opens SSH sessions. Authentication is tried in the order
// publickey, keyboard-interactive, password; the first one the server accepts
// is used. A key file that cannot be read or decrypted only removes publickey
// from that order.
type SSHDialer struct {
	// KnownHostsFile enables trust-on-first-use host key checking. Unknown hosts
	// are appended to the file; a changed key is rejected. Empty disables host
	// key checking.
	KnownHostsFile string
	// KeyFile is the default private key when a job has none.
	KeyFile        string
	ConnectTimeout time.Duration
	Logger         *zap.Logger

	mu sync.Mutex
}

// Dial connects and authenticates. Every failure is a ConnectionError.
func (d *SSHDialer) Dial(ctx context.Context, job Job) (Session, error) {
	addr := job.Addr()
	cfg, err := d.clientConfig(job)
	if err != nil {
		return nil, apperr.Connection("ssh config "+addr, err)
	}

	nd := net.Dialer{Timeout: cfg.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.Connection("dial "+addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, apperr.Connection("ssh handshake "+addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &sshSession{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (d *SSHDialer) clientConfig(job Job) (*ssh.ClientConfig, error) {
	var (
		methods []ssh.AuthMethod
		keyErr  error
	)

	keyFile := job.KeyFile
	if keyFile == "" {
		keyFile = d.KeyFile
	}
	if keyFile != "" {
		signer, err := loadSigner(keyFile, job.KeyPassphrase)
		if err != nil {
			keyErr = err
			d.logger().Warn("public key auth disabled",
				zap.String("host", job.Addr()), zap.String("key_file", keyFile), zap.Error(err))
		} else {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if job.Password != "" {
		password := job.Password
		methods = append(methods,
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
			ssh.Password(password),
		)
	}
	if len(methods) == 0 {
		if keyErr != nil {
			return nil, keyErr
		}
		return nil, errors.New("no credentials: set a key file or a password")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if d.KnownHostsFile != "" {
		cb, err := d.trustOnFirstUse()
		if err != nil {
			return nil, err
		}
		hostKey = cb
	}

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ssh.ClientConfig{
		User:            job.User,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

// trustOnFirstUse accepts and records keys of hosts not yet in the known hosts
// file and rejects keys that differ from a recorded one.
func (d *SSHDialer) trustOnFirstUse() (ssh.HostKeyCallback, error) {
	if err := os.MkdirAll(filepath.Dir(d.KnownHostsFile), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(d.KnownHostsFile, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, err
	}
	f.Close()

	check, err := knownhosts.New(d.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var kerr *knownhosts.KeyError
		if !errors.As(err, &kerr) || len(kerr.Want) > 0 {
			return err
		}
		return d.remember(hostname, remote, key)
	}, nil
}

func (d *SSHDialer) remember(hostname string, remote net.Addr, key ssh.PublicKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.KnownHostsFile, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	addrs := []string{knownhosts.Normalize(hostname)}
	if remote != nil && remote.String() != hostname {
		addrs = append(addrs, knownhosts.Normalize(remote.String()))
	}
	_, err = fmt.Fprintln(f, knownhosts.Line(addrs, key))
	return err
}

func (d *SSHDialer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if passphrase == "" {
			return nil, errors.New("key file is encrypted and no passphrase is set")
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return signer, nil
}

type sshSession struct {
	client  *ssh.Client
	session *ssh.Session
}

func (s *sshSession) Exec(ctx context.Context, command string, stderr io.Writer) (io.ReadCloser, error) {
	if s.session != nil {
		return nil, errors.New("session already used")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, err
	}
	sess.Stdin = nil
	sess.Stderr = stderr
	out, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.Start(command); err != nil {
		sess.Close()
		return nil, err
	}
	s.session = sess
	return &channelReader{Reader: out, session: sess}, nil
}

func (s *sshSession) Close() error {
	var errs []error
	if s.session != nil {
		if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// channelReader closes the command channel when the reader is closed. The
// remote exit status is not collected.
type channelReader struct {
	io.Reader
	session *ssh.Session
	once    sync.Once
}

func (r *channelReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}
