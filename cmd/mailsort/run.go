package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/metrics"
	"github.com/nhle/mailsort/internal/sync"
	"github.com/nhle/mailsort/internal/theme"
	"github.com/nhle/mailsort/internal/ui/progress"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one classification pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			var res sync.Result
			if isatty.IsTerminal(os.Stdout.Fd()) {
				res, err = progress.Run[sync.Result](cmd.Context(), os.Stdout, "Sorting mail", a.runner.Run)
			} else {
				res, err = a.runner.Run(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Println(formatResult(res))
			return nil
		},
	}
}

func formatResult(res sync.Result) string {
	if res.Skipped {
		return theme.ResultStyle("skipped").Render("skipped") + " " + res.SkipReason
	}

	var b strings.Builder
	b.WriteString(theme.ResultStyle("ok").Render("done"))
	fmt.Fprintf(&b, " %d candidates, %d copied, %d unclassified, %d skipped",
		res.Candidates, res.Stats.Copied, res.Stats.Unclassified, res.Stats.Skipped)
	if res.Stats.CopyFailures > 0 {
		fmt.Fprintf(&b, ", %s", theme.ResultStyle("error").Render(fmt.Sprintf("%d failed", res.Stats.CopyFailures)))
	}
	for _, r := range res.Drift {
		b.WriteString(" ")
		b.WriteString(theme.DriftStyle(r).Render("rebuilt:" + string(r)))
	}
	b.WriteString(" ")
	b.WriteString(theme.MutedStyle.Render(res.Duration.Round(time.Millisecond).String()))
	return b.String()
}

func watchCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run periodically; SIGHUP triggers an immediate run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, a)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			interval := time.Duration(a.cfg.Poll.IntervalSec) * time.Second
			poller := sync.NewPoller(a.runner, interval, a.log.Logger)
			poller.Start(ctx)
			defer poller.Stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			a.log.Info("watching mailbox", "interval", interval, "metrics", metricsAddr)
			for {
				select {
				case <-ctx.Done():
					a.log.Info("shutting down")
					return nil
				case <-hup:
					a.log.Info("run requested by SIGHUP")
					poller.Trigger()
				case r := <-poller.Results():
					if r.Error == nil {
						fmt.Println(formatResult(r.Result))
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	return cmd
}

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}
