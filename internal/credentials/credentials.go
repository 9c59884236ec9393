package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"routine-desk/lib/osutil"
)

var (
	ErrNoUsername = errors.New("no OS account name available")
	ErrNoSecret   = errors.New("no secret file")
)

const (
	EncodingPlain = "plain"
	// EncodingShift stores every rune shifted up by one.
	EncodingShift = "shift"
)

// Username is the OS account name, it doubles as the login name.
func Username() (string, error) {
	name := osutil.AccountName()
	if name == "" {
		return "", ErrNoUsername
	}
	return name, nil
}

func decode(stored, encoding string) (string, error) {
	switch encoding {
	case "", EncodingPlain:
		return stored, nil
	case EncodingShift:
		return shift(stored, -1), nil
	default:
		return "", fmt.Errorf("unknown secret encoding %q", encoding)
	}
}

func encode(secret, encoding string) (string, error) {
	switch encoding {
	case "", EncodingPlain:
		return secret, nil
	case EncodingShift:
		return shift(secret, 1), nil
	default:
		return "", fmt.Errorf("unknown secret encoding %q", encoding)
	}
}

func shift(s string, by rune) string {
	out := strings.Builder{}
	for _, r := range s {
		out.WriteRune(r + by)
	}
	return out.String()
}

// Secret reads and decodes the secret stored at path.
func Secret(path, encoding string) (string, error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNoSecret, path)
	}
	if err != nil {
		return "", err
	}
	secret, err := decode(strings.TrimSpace(string(contents)), encoding)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoSecret, path)
	}
	return secret, nil
}

// StoreSecret encodes and writes secret to path readable only by the owner.
func StoreSecret(path, encoding, secret string) error {
	encoded, err := encode(strings.TrimSpace(secret), encoding)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(path), 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(encoded), 0600)
}
