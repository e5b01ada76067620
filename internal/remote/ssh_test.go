package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"etlverify/internal/apperr"
	"etlverify/internal/report"
)

const loginPassword = "loginpw"

// sshServer answers exec requests on 127.0.0.1. Every command prints a
// completed job on stdout and one warning on stderr.
type sshServer struct {
	host   string
	port   int
	key    ssh.Signer
	closed chan struct{}

	mu       sync.Mutex
	methods  []string
	commands []string
	stdin    []string
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startSSHServer(t *testing.T, cfg *ssh.ServerConfig) *sshServer {
	t.Helper()
	s := &sshServer{key: newSigner(t), closed: make(chan struct{}, 16)}
	cfg.AddHostKey(s.key)
	cfg.AuthLogCallback = func(_ ssh.ConnMetadata, method string, _ error) {
		if method == "none" {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if n := len(s.methods); n == 0 || s.methods[n-1] != method {
			s.methods = append(s.methods, method)
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	addr := ln.Addr().(*net.TCPAddr)
	s.host, s.port = addr.IP.String(), addr.Port

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c, cfg)
		}
	}()
	return s
}

func (s *sshServer) serve(c net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		c.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	go func() {
		for nc := range chans {
			if nc.ChannelType() != "session" {
				_ = nc.Reject(ssh.UnknownChannelType, "session only")
				continue
			}
			ch, chReqs, err := nc.Accept()
			if err != nil {
				continue
			}
			go s.exec(ch, chReqs)
		}
	}()
	_ = conn.Wait()
	s.closed <- struct{}{}
}

func (s *sshServer) exec(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		var msg struct{ Command string }
		if req.Type != "exec" || ssh.Unmarshal(req.Payload, &msg) != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		in, _ := io.ReadAll(ch)
		s.mu.Lock()
		s.commands = append(s.commands, msg.Command)
		s.stdin = append(s.stdin, string(in))
		s.mu.Unlock()

		fmt.Fprint(ch.Stderr(), "WARN executor lost\n")
		fmt.Fprint(ch, "Starting job\nSpark Job Successfully completed\n")
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
		_ = ch.Close()
	}
}

func (s *sshServer) authMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *sshServer) job(password string) Job {
	return Job{Command: "spark-submit etl.jar", Host: s.host, Port: s.port, User: "etl", Password: password}
}

func (s *sshServer) addr() string {
	return net.JoinHostPort(s.host, fmt.Sprint(s.port))
}

func (s *sshServer) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("client connection still open")
	}
}

func acceptPassword(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
	if string(pw) == loginPassword {
		return nil, nil
	}
	return nil, errors.New("wrong password")
}

func acceptKeyboard(_ ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	answers, err := challenge("", "", []string{"Password: "}, []bool{false})
	if err != nil {
		return nil, err
	}
	if len(answers) == 1 && answers[0] == loginPassword {
		return nil, nil
	}
	return nil, errors.New("wrong answer")
}

func acceptKey(allowed ssh.PublicKey) func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
	return func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		if bytes.Equal(key.Marshal(), allowed.Marshal()) {
			return nil, nil
		}
		return nil, errors.New("unknown key")
	}
}

// writeKey writes an OpenSSH ed25519 private key, encrypted when passphrase is set.
func writeKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSSHDialer_RunsJobOverExecChannel(t *testing.T) {
	srv := startSSHServer(t, &ssh.ServerConfig{PasswordCallback: acceptPassword})
	stderr := &lockedBuffer{}
	r := NewRunner(&SSHDialer{}, &report.Memory{}, nil)
	r.Stderr = stderr

	v, err := r.Run(context.Background(), srv.job(loginPassword))
	require.NoError(t, err)
	assert.True(t, v.Succeeded)
	assert.Equal(t, []string{"Starting job", "Spark Job Successfully completed"}, v.ExitEvidence)

	srv.mu.Lock()
	assert.Equal(t, []string{"spark-submit etl.jar"}, srv.commands)
	assert.Equal(t, []string{""}, srv.stdin, "stdin is closed without data")
	srv.mu.Unlock()

	assert.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "WARN executor lost")
	}, 5*time.Second, 10*time.Millisecond)
	srv.waitClosed(t)
}

func TestSSHDialer_AuthOrder(t *testing.T) {
	keyFile, pub := writeKey(t, "")
	_, otherPub := writeKey(t, "")

	tests := []struct {
		name    string
		allowed ssh.PublicKey
		want    []string
	}{
		{name: "publickey is tried first", allowed: pub, want: []string{"publickey"}},
		{name: "keyboard-interactive before password", allowed: otherPub, want: []string{"publickey", "keyboard-interactive"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := startSSHServer(t, &ssh.ServerConfig{
				PublicKeyCallback:           acceptKey(tc.allowed),
				KeyboardInteractiveCallback: acceptKeyboard,
				PasswordCallback:            acceptPassword,
			})
			job := srv.job(loginPassword)
			job.KeyFile = keyFile

			sess, err := (&SSHDialer{}).Dial(context.Background(), job)
			require.NoError(t, err)
			require.NoError(t, sess.Close())
			assert.Equal(t, tc.want, srv.authMethods())
		})
	}

	t.Run("password when nothing else is offered", func(t *testing.T) {
		srv := startSSHServer(t, &ssh.ServerConfig{PasswordCallback: acceptPassword})
		job := srv.job(loginPassword)
		job.KeyFile = keyFile

		sess, err := (&SSHDialer{}).Dial(context.Background(), job)
		require.NoError(t, err)
		require.NoError(t, sess.Close())
		assert.Equal(t, []string{"password"}, srv.authMethods())
	})
}

func TestSSHDialer_UnusableKeyFallsBackToPassword(t *testing.T) {
	encrypted, _ := writeKey(t, "keypassphrase")

	tests := []struct {
		name    string
		keyFile string
	}{
		{name: "missing key file", keyFile: filepath.Join(t.TempDir(), "id_rsa")},
		{name: "encrypted key without passphrase", keyFile: encrypted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := startSSHServer(t, &ssh.ServerConfig{PasswordCallback: acceptPassword})

			sess, err := (&SSHDialer{KeyFile: tc.keyFile}).Dial(context.Background(), srv.job(loginPassword))
			require.NoError(t, err)
			require.NoError(t, sess.Close())
			assert.Equal(t, []string{"password"}, srv.authMethods())
		})
	}
}

func TestSSHDialer_EncryptedKeyUsesItsOwnPassphrase(t *testing.T) {
	keyFile, pub := writeKey(t, "keypassphrase")
	srv := startSSHServer(t, &ssh.ServerConfig{PublicKeyCallback: acceptKey(pub)})

	job := srv.job("")
	job.KeyFile = keyFile
	job.KeyPassphrase = "keypassphrase"
	sess, err := (&SSHDialer{}).Dial(context.Background(), job)
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	assert.Equal(t, []string{"publickey"}, srv.authMethods())
}

func TestSSHDialer_NoUsableCredentials(t *testing.T) {
	srv := startSSHServer(t, &ssh.ServerConfig{PasswordCallback: acceptPassword})

	_, err := (&SSHDialer{}).Dial(context.Background(), srv.job(""))
	assert.ErrorIs(t, err, apperr.ErrConnection)

	_, err = (&SSHDialer{KeyFile: filepath.Join(t.TempDir(), "id_rsa")}).Dial(context.Background(), srv.job(""))
	assert.ErrorIs(t, err, apperr.ErrConnection)
	assert.ErrorContains(t, err, "read key file")
}

func TestSSHDialer_TrustOnFirstUse(t *testing.T) {
	srv := startSSHServer(t, &ssh.ServerConfig{PasswordCallback: acceptPassword})
	path := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	d := &SSHDialer{KnownHostsFile: path}
	want := knownhosts.Line([]string{knownhosts.Normalize(srv.addr())}, srv.key.PublicKey()) + "\n"

	for i := 0; i < 2; i++ {
		sess, err := d.Dial(context.Background(), srv.job(loginPassword))
		require.NoError(t, err)
		require.NoError(t, sess.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data), "host recorded once")
	}
}

func TestSSHDialer_RejectsChangedHostKey(t *testing.T) {
	srv := startSSHServer(t, &ssh.ServerConfig{PasswordCallback: acceptPassword})
	path := filepath.Join(t.TempDir(), "known_hosts")
	recorded := knownhosts.Line([]string{knownhosts.Normalize(srv.addr())}, newSigner(t).PublicKey()) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(recorded), 0o600))

	_, err := (&SSHDialer{KnownHostsFile: path}).Dial(context.Background(), srv.job(loginPassword))
	assert.ErrorIs(t, err, apperr.ErrConnection)
	assert.ErrorContains(t, err, "key mismatch")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, recorded, string(data))
}

func TestSSHDialer_WithoutKnownHostsAcceptsAnyKey(t *testing.T) {
	for i := 0; i < 2; i++ {
		srv := startSSHServer(t, &ssh.ServerConfig{PasswordCallback: acceptPassword})
		sess, err := (&SSHDialer{}).Dial(context.Background(), srv.job(loginPassword))
		require.NoError(t, err)
		require.NoError(t, sess.Close())
		srv.waitClosed(t)
	}
}
