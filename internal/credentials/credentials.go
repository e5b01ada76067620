// Package credentials supplies connection secrets by name.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"etlverify/internal/security"
)

// ErrNotFound is returned when no provider knows a secret.
var ErrNotFound = errors.New("credential not found")

// Provider resolves a secret name such as "target.db.password".
type Provider interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Static serves secrets from a map; mainly for tests and the API.
type Static map[string]string

func (s Static) Secret(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// Env reads PREFIX_NAME environment variables; dots and dashes in the name
// become underscores.
type Env struct {
	Prefix string
}

func (e Env) Secret(_ context.Context, name string) (string, error) {
	key := EnvKey(e.Prefix, name)
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, key)
	}
	return v, nil
}

// EnvKey builds the variable name Env looks up.
func EnvKey(prefix, name string) string {
	key := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
	if prefix == "" {
		return key
	}
	return strings.ToUpper(prefix) + "_" + key
}

// Properties serves secrets from <dir>/<env>.properties. When Key is set each
// value is stored AES encrypted and base64 encoded.
type Properties struct {
	v   *viper.Viper
	key []byte
}

// LoadProperties reads the properties file selected by env.
func LoadProperties(dir, env string, key []byte) (*Properties, error) {
	if env == "" {
		return nil, errors.New("properties environment is required")
	}
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, env+".properties"))
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s.properties: %w", env, err)
	}
	return &Properties{v: v, key: key}, nil
}

func (p *Properties) Secret(_ context.Context, name string) (string, error) {
	if !p.v.IsSet(name) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	raw := p.v.GetString(name)
	if len(p.key) == 0 {
		return raw, nil
	}
	plain, err := security.DecryptAESECB(p.key, raw)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", name, err)
	}
	return plain, nil
}

// Chain asks each provider in turn and returns the first secret found. Errors
// other than ErrNotFound stop the search.
type Chain []Provider

func (c Chain) Secret(ctx context.Context, name string) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		v, err := p.Secret(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
