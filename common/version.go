package common

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var version string

// Version returns the current version of the update client.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent identifies the update client in requests to the update server.
func UserAgent() string {
	return "ota-client/" + Version()
}
