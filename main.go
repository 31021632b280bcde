// sshexec runs commands on a remote host, one SSH channel per command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sshexec/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		code := cmd.ExitCode(err)
		if _, remote := err.(*cmd.ExitError); !remote {
			fmt.Fprintf(os.Stderr, "sshexec: %v\n", err)
		}
		cancel()
		os.Exit(code)
	}
}
