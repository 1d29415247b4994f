package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matzehuels/portkeeper/internal/cli"
	"github.com/matzehuels/portkeeper/pkg/errors"
)

// Exit codes.
const (
	exitFailure     = 1
	exitConfig      = 2 // invalid configuration or arguments
	exitInterrupted = 130
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		if stderrors.Is(err, context.Canceled) {
			os.Exit(exitInterrupted) // Standard shell convention for SIGINT
		}
		fmt.Fprintln(os.Stderr, "portkeeper:", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context) error {
	c := cli.New(os.Stderr, cli.LogInfo)
	c.RegisterHooks()
	return c.RootCommand().ExecuteContext(ctx)
}

func exitCode(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidConfig, errors.ErrCodeInvalidAtom, errors.ErrCodeInvalidInput, errors.ErrCodeInvalidPath:
		return exitConfig
	}
	return exitFailure
}
