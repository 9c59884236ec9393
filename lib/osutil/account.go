package osutil

import (
	"os"
	"os/user"
	"strings"
)

// AccountName returns the name of the OS account running the process with any
// windows style domain prefix (DOMAIN\user) removed, "" when none is known.
func AccountName() string {
	name := os.Getenv("USERNAME")
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		current, err := user.Current()
		if err == nil {
			name = current.Username
		}
	}
	if idx := strings.LastIndex(name, `\`); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSpace(name)
}
