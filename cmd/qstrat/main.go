package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/artem1984A/quantize-strategy/cmd/qstrat/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
