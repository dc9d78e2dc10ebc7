package signer

import (
	"crypto/rand"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// envelope is the scrypt+secretbox encrypted blob format backing both
// task.privKeys and a pocket's encrypted HD master/change keys: scrypt
// stretches the safe-supplied password into a symmetric key, secretbox
// authenticates and encrypts the JSON payload.
type envelope struct {
	Salt  []byte   `json:"salt"`
	Nonce [24]byte `json:"nonce"`
	Box   []byte   `json:"box"`
}

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

func deriveKey(password string, salt []byte) (*[32]byte, error) {
	raw, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Encrypt seals payload under password, producing the wire envelope
// decrypt expects. Exported for identity/wallet collaborators and
// tests that need to construct fixtures matching the real format.
func Encrypt(payload []byte, password string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	box := secretbox.Seal(nil, payload, &nonce, key)
	return json.Marshal(envelope{Salt: salt, Nonce: nonce, Box: box})
}

func decrypt(blob []byte, password string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, errors.Wrap(err, "signer: malformed envelope")
	}
	key, err := deriveKey(password, env.Salt)
	if err != nil {
		return nil, err
	}
	out, ok := secretbox.Open(nil, env.Box, &env.Nonce, key)
	if !ok {
		return nil, errors.New("signer: decryption failed (wrong password or corrupt blob)")
	}
	return out, nil
}

// decryptJSON decrypts the host's privKeys blob: a JSON object mapping
// "<txhash>:<vout>" to a hex-encoded private key.
func decryptJSON(blob []byte, password string) (map[string]string, error) {
	raw, err := decrypt(blob, password)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "signer: malformed privKeys payload")
	}
	return m, nil
}

// decryptHDRoot decrypts a pocket's encrypted HD key blob to its
// plaintext base58 root string.
func decryptHDRoot(blob []byte, password string) (string, error) {
	raw, err := decrypt(blob, password)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
