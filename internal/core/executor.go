package core

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"etlverify/internal/remote"
)

// Plan transports.
const (
	TransportSSH   = "ssh"
	TransportLocal = "local"
)

// Dialers maps a transport to the dialer that reaches the job host.
type Dialers map[string]remote.Dialer

// NewDialers returns the ssh dialer and the local shell dialer.
func NewDialers(knownHosts, keyFile string, connectTimeout time.Duration, logger *zap.Logger) Dialers {
	return Dialers{
		TransportSSH: &remote.SSHDialer{
			KnownHostsFile: knownHosts,
			KeyFile:        keyFile,
			ConnectTimeout: connectTimeout,
			Logger:         logger,
		},
		TransportLocal: remote.NewShellDialer(),
	}
}

// For returns the dialer for transport; empty means ssh.
func (d Dialers) For(transport string) (remote.Dialer, error) {
	if transport == "" {
		transport = TransportSSH
	}
	dialer, ok := d[transport]
	if !ok || dialer == nil {
		return nil, fmt.Errorf("no dialer for transport %q", transport)
	}
	return dialer, nil
}
