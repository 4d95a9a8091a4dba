package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cordum/coldgate/core/infra/buildinfo"
	"github.com/cordum/coldgate/core/infra/logging"
)

func main() {
	configPath := flag.String("config", "", "path to coldgate YAML config (overrides COLDGATE_CONFIG)")
	flag.Parse()

	buildinfo.Log("coldgate")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *configPath); err != nil {
		logging.Error("coldgate", "exited with error", "error", err)
		os.Exit(1)
	}
	logging.Info("coldgate", "stopped")
}
