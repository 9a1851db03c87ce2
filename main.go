package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelpento.lv/flashlender/cmd"
	"github.com/michaelpento.lv/flashlender/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	utils.CleanupLogger()
	if err != nil {
		os.Exit(1)
	}
}
