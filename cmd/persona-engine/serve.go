package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/persona-engine/internal/engine"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Decide a stream of newline-delimited JSON requests",
	Long: `Read one envelope per line from stdin and write one result per line to stdout.

Envelope: {"tenant_id": "...", "user_id": "...", "request": {...}}
Result:   {"response": {...}} or {"error": "..."}`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(serveCmd)
}

// #region serve
type envelope struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	Request  engine.Request `json:"request"`
}

type result struct {
	Response *engine.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		if metricsAddr != "" {
			srv := &http.Server{
				Addr:              metricsAddr,
				Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("metrics server stopped", slog.Any("error", err))
				}
			}()
			defer srv.Shutdown(context.Background())
			a.logger.Info("metrics listening", slog.String("addr", metricsAddr))
		}
		a.logger.Info("persona engine ready",
			slog.String("db", a.cfg.Storage.DBPath),
			slog.String("audit", a.cfg.Audit.Sink),
			slog.Bool("cache", a.cache != nil),
			slog.Bool("remote_scorer", a.remote != nil))
		return serveLoop(ctx, a.engine, cmd.InOrStdin(), cmd.OutOrStdout())
	})
}

// serveLoop handles one envelope per line until EOF or ctx is done. Reads run
// in their own goroutine so cancellation returns even while stdin is idle.
func serveLoop(ctx context.Context, eng *engine.Engine, in io.Reader, out io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		var line []byte
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = bytes.TrimSpace(l)
		}
		if len(line) == 0 {
			continue
		}

		var env envelope
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&env); err != nil {
			if err := enc.Encode(result{Error: fmt.Sprintf("decode: %v", err)}); err != nil {
				return err
			}
			continue
		}

		resp, err := eng.Decide(ctx, env.Request, engine.SecurityContext{TenantID: env.TenantID, UserID: env.UserID})
		res := result{Response: resp}
		if err != nil {
			res = result{Error: err.Error()}
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
}

// #endregion serve
