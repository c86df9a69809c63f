package ocfl

import "time"

// User identifies the person or agent recorded against a version.
type User struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// VersionInfo carries the optional metadata attached to a committed version:
// when it was created, an operator message, and the user responsible.
type VersionInfo struct {
	Created time.Time
	Message string
	User    *User
}

// secondPrecision truncates t to second precision in UTC, matching the
// granularity inventories persist for a version's "created" timestamp.
func secondPrecision(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
