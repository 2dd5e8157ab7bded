// main is the entry point for the tsmine CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/huangsam/tsmine/cmd"
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/iocache"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cmd.ExecuteContext(ctx)

	// LogFatal exits, so cleanup runs before it
	stop()
	iocache.CloseStores()
	if perr := cmd.StopProfiling(); perr != nil {
		contract.LogWarn("Failed to stop profiling", perr)
	}
	if err != nil {
		contract.LogFatal("tsmine failed", err)
	}
}
