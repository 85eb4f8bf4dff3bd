// Command learnhubctl is a terminal client for the learnhub API. It keeps a
// session between runs the same way the web client does: the access token in
// a durable store, the refresh token as a cookie.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
