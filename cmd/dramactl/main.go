// Command dramactl queries the series catalog through the cache gateway and exercises the
// playback failover ladder from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, wait := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	wait()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
