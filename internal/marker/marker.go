// Package marker is the session marker file, a single line holding the date
// of the last successful login. It is valid only on the day it names.
package marker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"routine-desk/lib/chrono"
)

type Marker struct {
	path string
}

func New(path string) Marker {
	return Marker{path: path}
}

func (m Marker) Path() string {
	return m.path
}

// Valid is true only if the marker's trimmed contents equal the date of now
// formatted as YYYY/MM/DD. Missing, stale, malformed or empty markers are
// invalid without an error, unexpected I/O errors are returned alongside
// false.
func (m Marker) Valid(now time.Time) (bool, error) {
	contents, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read marker: %w", err)
	}
	return strings.TrimSpace(string(contents)) == now.Format(chrono.DateLayout), nil
}

// Stored returns the trimmed contents of the marker, "" if it is missing.
func (m Marker) Stored() (string, error) {
	contents, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(contents)), nil
}

// Write replaces the marker with the date of now.
func (m Marker) Write(now time.Time) error {
	dir := filepath.Dir(m.path)
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".marker-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.WriteString(now.Format(chrono.DateLayout))
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}

// Clear removes the marker, a missing marker is not an error.
func (m Marker) Clear() error {
	err := os.Remove(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
