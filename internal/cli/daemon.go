package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CrewClaw/CrewClaw/internal/gateway"
	"github.com/CrewClaw/CrewClaw/internal/httpapi"
	"github.com/CrewClaw/CrewClaw/internal/notify"
	"github.com/CrewClaw/CrewClaw/internal/scheduler"
	"github.com/CrewClaw/CrewClaw/internal/session"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the coordination daemon (delivery loop, scheduler, HTTP API)",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	printHeader("🛰️ CrewClaw Daemon")

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.store.SetSetting("daemon.last_start", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Could not record daemon start", "error", err)
	}

	registry := session.NewRegistry()
	sessions := session.NewManager(svc.cfg.Paths.SessionsDir)
	gw := gateway.New(svc.store, svc.bus, svc.tasks, sessions, nil, gateway.Options{
		Sigil:          svc.cfg.Gateway.Sigil,
		VersionRetries: svc.cfg.Gateway.VersionRetries,
		HistoryLimit:   svc.cfg.Gateway.HistoryLimit,
		Registry:       registry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention := time.Duration(svc.cfg.Notify.RetentionDays) * 24 * time.Hour
	worker := notify.NewDeliveryWorker(svc.store, registry, svc.cfg.Notify.Interval, retention)
	go worker.Run(ctx)

	var sched *scheduler.Scheduler
	if svc.cfg.Scheduler.Enabled {
		sched = scheduler.New(svc.cfg.Scheduler, svc.store, svc.bus, gw)
		if err := sched.Load(); err != nil {
			return err
		}
		go sched.Run(ctx)
	} else {
		slog.Info("Scheduler disabled")
	}

	if svc.cfg.HTTP.Enabled {
		api := httpapi.New(svc.store, svc.tasks, gw, sched)
		httpSrv := &http.Server{Addr: svc.cfg.HTTP.Addr, Handler: api.Router()}
		go func() {
			slog.Info("HTTP API listening", "addr", svc.cfg.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP API failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Println("Daemon running. Ctrl+C to stop.")
	<-ctx.Done()
	slog.Info("Daemon shutting down")
	return nil
}
