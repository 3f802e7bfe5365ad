package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/gobdpan/bdpan/internal/panfake"
	"github.com/gobdpan/bdpan/internal/version"
)

const (
	defaultAddr  = "127.0.0.1:8787"
	defaultToken = "dev-token"
)

func main() {
	var (
		addr       string
		token      string
		requestLog bool
	)

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug, TimeFormat: time.Kitchen}))
	slog.SetDefault(logger)

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:          "bdpan-devserver",
		Short:        "Run an in-memory pan server for trying out bdpan",
		Version:      version.Detailed(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := panfake.New(nil, panfake.WithAccessToken(token), panfake.WithLogger(logger), panfake.WithRequestLog(requestLog))
			base := "http://" + ln.Addr().String()
			fmt.Fprintf(cmd.OutOrStdout(), "BDPAN_XPAN_URL=%s%s\nBDPAN_PCS_URL=%s%s\nBDPAN_ACCESS_TOKEN=%s\n",
				base, panfake.XpanPrefix, base, panfake.PcsPrefix, token)
			return serve(cmd.Context(), ln, srv.Handler(), logger)
		},
	}
	rootCmd.Flags().StringVarP(&addr, "addr", "a", defaultAddr, "address to listen on")
	rootCmd.Flags().StringVarP(&token, "token", "t", defaultToken, "access token clients must send")
	rootCmd.Flags().BoolVar(&requestLog, "request-log", true, "log every request")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// serve runs handler on ln until ctx ends, then shuts down gracefully
func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server start http", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("http server stopped")
	return nil
}
