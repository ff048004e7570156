// Package instance names the running replica for logs and lock ownership.
package instance

import (
	"os"
	"strings"
)

const fallbackID = "local"

// sources are checked in order; the first non-empty value wins.
var sources = []string{"EDI_INSTANCE_ID", "DYNO", "HOSTNAME"}

// GetID returns the replica identifier.
func GetID() string {
	return resolve(os.Getenv)
}

func resolve(getenv func(string) string) string {
	for _, key := range sources {
		if id := strings.TrimSpace(getenv(key)); id != "" {
			return id
		}
	}
	return fallbackID
}
