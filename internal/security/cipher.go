package security

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"errors"
	"fmt"
)

// Property secrets are AES in ECB mode with PKCS#5 padding, base64 encoded.
// The key is used as raw bytes and must be 16, 24 or 32 bytes long.

// EncryptAESECB encrypts plaintext for storage in a properties file.
func EncryptAESECB(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes key: %w", err)
	}
	bs := block.BlockSize()
	pad := bs - len(plaintext)%bs
	src := append([]byte(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)

	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		block.Encrypt(dst[i:i+bs], src[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(dst), nil
}

// DecryptAESECB reverses EncryptAESECB.
func DecryptAESECB(key []byte, encoded string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes key: %w", err)
	}
	src, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	bs := block.BlockSize()
	if len(src) == 0 || len(src)%bs != 0 {
		return "", errors.New("ciphertext is not a whole number of blocks")
	}

	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		block.Decrypt(dst[i:i+bs], src[i:i+bs])
	}
	pad := int(dst[len(dst)-1])
	if pad == 0 || pad > bs || pad > len(dst) {
		return "", errors.New("bad padding")
	}
	for _, b := range dst[len(dst)-pad:] {
		if int(b) != pad {
			return "", errors.New("bad padding")
		}
	}
	return string(dst[:len(dst)-pad]), nil
}
