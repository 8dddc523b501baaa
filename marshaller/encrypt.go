package marshaller

import (
	"crypto/sha256"
	"encoding/base64"

	"emperror.dev/errors"
)

// Mode tells an EncryptFunc which direction to run.
type Mode string

const (
	ModeEncrypt Mode = "encrypt"
	ModeDecrypt Mode = "decrypt"
)

const saltSize = 8

type Encryptor interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// EncryptFunc adapts a single two-way function to Encryptor.
type EncryptFunc func(data []byte, mode Mode) ([]byte, error)

func (f EncryptFunc) Encrypt(data []byte) ([]byte, error) {
	return f(data, ModeEncrypt)
}

func (f EncryptFunc) Decrypt(data []byte) ([]byte, error) {
	return f(data, ModeDecrypt)
}

// SaltBase64 XORs the plaintext with an 8 byte salt taken from
// sha256(key || plaintext), prepends the salt and base64 encodes the result.
//
// It only obscures payloads from casual inspection of the store. It is not
// authenticated and gives no confidentiality against anyone holding a few
// samples; use an EncryptFunc backed by a real cipher when that matters.
type SaltBase64 struct {
	key []byte
}

func NewSaltBase64(key string) *SaltBase64 {
	return &SaltBase64{key: []byte(key)}
}

func (sb *SaltBase64) salt(data []byte) []byte {
	h := sha256.New()
	h.Write(sb.key)
	h.Write(data)
	return h.Sum(nil)[:saltSize]
}

func (sb *SaltBase64) Encrypt(data []byte) ([]byte, error) {
	salt := sb.salt(data)

	combined := make([]byte, saltSize+len(data))
	copy(combined, salt)
	xor(combined[saltSize:], data, salt)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(combined)))
	base64.StdEncoding.Encode(out, combined)
	return out, nil
}

func (sb *SaltBase64) Decrypt(data []byte) ([]byte, error) {
	combined := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(combined, data)
	if err != nil {
		return nil, errors.Wrap(err, "base64 decode failed")
	}
	combined = combined[:n]
	if len(combined) < saltSize {
		return nil, errors.Errorf("ciphertext too short: %d bytes", len(combined))
	}

	out := make([]byte, len(combined)-saltSize)
	xor(out, combined[saltSize:], combined[:saltSize])
	return out, nil
}

func xor(dst, src, salt []byte) {
	for i := range src {
		dst[i] = src[i] ^ salt[i%len(salt)]
	}
}
