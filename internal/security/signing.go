package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyPair is the ed25519 identity that signs evidence blocks.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Save writes both keys hex encoded, creating the parent directories.
func (kp KeyPair) Save(pubPath, privPath string) error {
	for _, p := range []string{pubPath, privPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return err
		}
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.Public)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0o600)
}

// PublicHex returns the hex form stored in each block.
func (kp KeyPair) PublicHex() string { return hex.EncodeToString(kp.Public) }

// LoadKeyPair reads a key pair written by Save.
func LoadKeyPair(pubPath, privPath string) (KeyPair, error) {
	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("load public key: %w", err)
	}
	priv, err := LoadPrivateKey(privPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("load private key: %w", err)
	}
	if !pub.Equal(priv.Public()) {
		return KeyPair{}, errors.New("public key does not match private key")
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// EnsureKeyPair loads the key pair in dir, generating it on first use. The
// boolean reports whether a new pair was created.
func EnsureKeyPair(dir string) (KeyPair, bool, error) {
	pubPath := filepath.Join(dir, "signing.pub")
	privPath := filepath.Join(dir, "signing.priv")
	if _, err := os.Stat(pubPath); errors.Is(err, os.ErrNotExist) {
		kp, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, false, err
		}
		if err := kp.Save(pubPath, privPath); err != nil {
			return KeyPair{}, false, err
		}
		return kp, true, nil
	}
	kp, err := LoadKeyPair(pubPath, privPath)
	return kp, false, err
}

// LoadPrivateKey loads an ed25519 private key from a hex-encoded file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	b, err := readHex(path)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.PrivateKey(b), nil
}

// LoadPublicKey loads an ed25519 public key from a hex-encoded file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	b, err := readHex(path)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return ed25519.PublicKey(b), nil
}

func readHex(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(string(data)))
}

// SignData signs data and returns the hex signature.
func SignData(priv ed25519.PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, data))
}

// VerifySignatureFromHex verifies a hex signature with a hex public key.
func VerifySignatureFromHex(pubHex string, data []byte, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}
