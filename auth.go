// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import "fmt"

// AuthFunc supplies credentials when the server answers 401.
//
// The prompt is a human readable question and username is the user name
// from [Config.Username], possibly empty. Returning ok == false gives up
// and the request fails with the server's 401.
//
// The function runs in a worker goroutine, possibly concurrently with
// itself for distinct servers.
type AuthFunc func(prompt, username string) (user, password string, ok bool)

// authPrompt formats the prompt passed to an [AuthFunc].
func authPrompt(username, host string) string {
	if username == "" {
		return fmt.Sprintf("Password for %s? ", host)
	}
	return fmt.Sprintf("Password for %s on %s? ", username, host)
}
