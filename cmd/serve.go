package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/events"
	"github.com/sells-group/pricefeed/internal/monitoring"
	"github.com/sells-group/pricefeed/internal/pipeline"
	"github.com/sells-group/pricefeed/internal/storage"
	"github.com/sells-group/pricefeed/internal/uploadsvc"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		reg, err := pipeline.NewRegistry(cfg)
		if err != nil {
			return err
		}
		minio, err := storage.NewMinio(cfg.Minio)
		if err != nil {
			return eris.Wrap(err, "init minio")
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		notifier := events.New(cfg.Kafka)
		defer notifier.Close() //nolint:errcheck

		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := monitoring.New(promReg)

		srv := uploadsvc.NewServer(uploadsvc.Deps{
			Uploader:  minio,
			Bucket:    minio.Bucket(),
			Store:     st,
			Notifier:  notifier,
			Metrics:   metrics,
			Gatherer:  promReg,
			APIKey:    cfg.Server.APIKey,
			Pipelines: reg.Names(),
		})

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting upload service",
			zap.Int("port", cfg.Server.Port),
			zap.String("bucket", minio.Bucket()),
			zap.Strings("pipelines", reg.Names()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
