package core

import (
	"context"
	"errors"
	"time"

	"etlverify/internal/apperr"
	"etlverify/internal/credentials"
	"etlverify/internal/remote"
)

// JobSpec is the remote transformation job of a plan. Secrets are never part
// of the plan: the login password is resolved from Credential and the key
// passphrase from KeyPassphrase, both at run time.
type JobSpec struct {
	Command       string        `yaml:"command" json:"command"`
	Host          string        `yaml:"host" json:"host"`
	Port          int           `yaml:"port" json:"port,omitempty"`
	User          string        `yaml:"user" json:"user"`
	Credential    string        `yaml:"credential" json:"credential,omitempty"`
	KeyFile       string        `yaml:"key_file" json:"keyFile,omitempty"`
	KeyPassphrase string        `yaml:"key_passphrase" json:"keyPassphrase,omitempty"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// resolve turns the job settings into a runnable remote job. A secret that cannot be
// resolved is a connection failure: the host cannot be authenticated against.
func (s *JobSpec) resolve(ctx context.Context, creds credentials.Provider) (remote.Job, error) {
	job := remote.Job{
		Command: s.Command,
		Host:    s.Host,
		Port:    s.Port,
		User:    s.User,
		KeyFile: s.KeyFile,
		Timeout: s.Timeout,
	}
	var err error
	if job.Password, err = secret(ctx, creds, s.Credential); err != nil {
		return job, err
	}
	if job.KeyPassphrase, err = secret(ctx, creds, s.KeyPassphrase); err != nil {
		return job, err
	}
	return job, nil
}

func secret(ctx context.Context, creds credentials.Provider, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if creds == nil {
		return "", apperr.Connection("job credentials", errors.New("no credential provider configured"))
	}
	v, err := creds.Secret(ctx, name)
	if err != nil {
		return "", apperr.Connection("job credentials", err)
	}
	return v, nil
}
