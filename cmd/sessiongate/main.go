// File: cmd/sessiongate/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/sessiongate/cmd"
	"github.com/xkilldash9x/sessiongate/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	observability.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
