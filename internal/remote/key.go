package remote

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// keyBytes is how much randomness goes into a generated key.
const keyBytes = 256

// LoadOrCreateKey reads the shared key from path. When the file does not
// exist a new key is generated and written there with mode 0600; created
// reports that case.
func LoadOrCreateKey(path string) (key string, created bool, err error) {
	key, err = ReadKey(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", false, err
	}

	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("generate key: %w", err)
	}
	key = hex.EncodeToString(buf)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", false, fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(key + "\n"); err != nil {
		f.Close()
		return "", false, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", false, fmt.Errorf("write key file: %w", err)
	}
	return key, true, nil
}

// ReadKey reads the shared key from path, ignoring surrounding whitespace.
func ReadKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}
	return key, nil
}
