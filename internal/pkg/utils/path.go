package utils

import (
	"fmt"
	"strings"
)

// ObjectPath builds the store key for a session artifact:
// private/<owner>/<sessionID>/<name>
func ObjectPath(owner, sessionID, name string) string {
	return fmt.Sprintf("private/%s/%s/%s", owner, sessionID, name)
}

// ParseObjectPath extracts owner, sessionID and file name from a store key.
// Returns empty values if the key does not follow the private/... convention
func ParseObjectPath(key string) (owner, sessionID, fileName string) {
	parts := []string{}
	for _, p := range strings.Split(key, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 4 || parts[0] != "private" {
		return "", "", ""
	}
	return parts[1], parts[2], strings.Join(parts[3:], "/")
}
