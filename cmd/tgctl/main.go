// SPDX-License-Identifier: MIT

// Command tgctl is the operations CLI for a running thumbgate daemon: cache
// stats and entries, purges, prewarm, verification runs, and an offline
// journal check that works while the daemon is down.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
