package ssh

import "strings"

// Quote single-quotes s for a POSIX shell, escaping embedded quotes. Remote
// commands are assembled from quoted words only; nothing from the inventory
// reaches the shell unquoted.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
