package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	v1 "go_certagent/api/v1"
	"go_certagent/internal/auth"
	"go_certagent/internal/httpx"
	"go_certagent/internal/runner"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the renewal scheduler and the status API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.runner()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	scheduler := runner.NewScheduler(r, runner.SchedulerConfig{
		Enabled:  a.cfg.Scheduler.Enabled,
		Interval: time.Duration(a.cfg.Scheduler.IntervalSec) * time.Second,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if !a.cfg.API.Enabled {
		a.log.Info("[API] Disabled")
		<-ctx.Done()
		return nil
	}

	issuer, err := auth.NewIssuer(a.cfg.JWT.Secret, a.cfg.JWT.Issuer, time.Duration(a.cfg.JWT.ExpireMinutes)*time.Minute)
	if err != nil {
		return err
	}
	httpx.Log = a.log.WithField("component", "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	v1.SetupRouter(engine, v1.Deps{Store: a.store, Runner: r, Registry: a.reg, Issuer: issuer})

	srv := &http.Server{Addr: a.cfg.API.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("[API] Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	a.log.Info("[API] Shutting down")
	return srv.Shutdown(shutdownCtx)
}
