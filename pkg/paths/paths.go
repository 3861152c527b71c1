// Package paths builds the homeserver endpoint paths.
package paths

import "strings"

const prefix = "/mvp"

func Challenge() string { return prefix + "/challenge" }

// Session returns the session path, scoped to userID when it is non-empty.
func Session(userID string) string {
	if userID == "" {
		return prefix + "/session"
	}
	return prefix + "/session/" + userID
}

// Signup is where a new identity submits its root signature.
func Signup(userID string) string { return prefix + "/users/" + userID + "/pkarr" }

// Repo returns the path of repo, or of an entry within it when path is
// non-empty. A single leading slash on path is ignored.
func Repo(userID, repo, path string) string {
	base := prefix + "/users/" + userID + "/repos/" + repo
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimPrefix(path, "/")
}
