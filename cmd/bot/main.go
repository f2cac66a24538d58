package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"snitchbot/internal/core"
	logx "snitchbot/pkg/logx"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger for everything before the log service owns output.
	boot := logx.NewConsole("info")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := core.NewApp(*configPath)
	if err != nil {
		boot.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		boot.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	stop()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		boot.Error("shutdown incomplete", logx.Err(err))
		os.Exit(1)
	}
}
