package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

const exportVersion = "1"

// ExportBundle carries the portable state: the routing manifest and the
// scheduled task store. Credentials and the .env file are deliberately
// excluded; keys never leave the machine.
type ExportBundle struct {
	Version    string          `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Manifest   json.RawMessage `json:"manifest,omitempty"`
	Tasks      json.RawMessage `json:"tasks,omitempty"`
}

// Export reads the manifest and task store from disk and returns them as one
// passphrase-encrypted, base64-encoded payload.
func (c *Config) Export(passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("passphrase is required for export")
	}

	bundle := ExportBundle{
		Version:    exportVersion,
		ExportedAt: time.Now(),
	}
	if data, err := os.ReadFile(c.ManifestPath); err == nil {
		bundle.Manifest = data
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	if data, err := os.ReadFile(c.TasksPath); err == nil {
		bundle.Tasks = data
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read task store: %w", err)
	}

	jsonData, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal export bundle: %w", err)
	}

	encrypted, err := encryptWithPassphrase(jsonData, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt export bundle: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// Import decrypts a payload produced by Export and writes the contained
// files back to their configured paths.
func (c *Config) Import(encoded, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase is required for import")
	}

	encrypted, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode import payload: %w", err)
	}

	decrypted, err := decryptWithPassphrase(encrypted, passphrase)
	if err != nil {
		return fmt.Errorf("decrypt import payload: %w", err)
	}

	var bundle ExportBundle
	if err := json.Unmarshal(decrypted, &bundle); err != nil {
		return fmt.Errorf("unmarshal import payload: %w", err)
	}
	if bundle.Version != exportVersion {
		log.Warn().Str("payload_version", bundle.Version).Str("supported", exportVersion).
			Msg("Import payload from different version; attempting anyway")
	}

	if len(bundle.Manifest) > 0 {
		if err := writeFileAtomic(c.ManifestPath, bundle.Manifest); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	if len(bundle.Tasks) > 0 {
		if err := writeFileAtomic(c.TasksPath, bundle.Tasks); err != nil {
			return fmt.Errorf("write task store: %w", err)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// encryptWithPassphrase seals data with AES-GCM under a PBKDF2-derived key.
// Layout: 32-byte salt | nonce | ciphertext.
func encryptWithPassphrase(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	result := make([]byte, len(salt)+len(ciphertext))
	copy(result, salt)
	copy(result[len(salt):], ciphertext)
	return result, nil
}

func decryptWithPassphrase(ciphertext []byte, passphrase string) ([]byte, error) {
	if len(ciphertext) < 32 {
		return nil, fmt.Errorf("ciphertext too short")
	}

	salt := ciphertext[:32]
	ciphertext = ciphertext[32:]

	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
