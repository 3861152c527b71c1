// Command pubky manages a pubky identity: key generation, signup and login
// against a homeserver, homeserver record publishing and repo access.
package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
