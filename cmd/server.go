package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidschrooten/training-search/internal/api"
	"github.com/davidschrooten/training-search/internal/indexer"
	"github.com/davidschrooten/training-search/internal/query"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the training search server",
	Long: `Start the HTTP server that provides search, suggestion and export endpoints.
The server connects to the search engine, rebuilds the index from the catalog and then
starts listening.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().String("host", "0.0.0.0", "Host to bind the server to")
	serverCmd.Flags().Int("port", 5000, "Port to bind the server to")
	serverCmd.Flags().Bool("skip-reindex", false, "Serve the existing index without rebuilding it")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Bind flags to viper
	v := viper.New()
	if err := v.BindPFlag("server.host", cmd.Flags().Lookup("host")); err != nil {
		return err
	}
	if err := v.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := connectEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("Failed to close search engine", zap.Error(err))
		}
	}()

	indexerService := newIndexer(cfg, engine, logger)

	skipReindex, _ := cmd.Flags().GetBool("skip-reindex")
	if cfg.Indexer.ReindexOnStart && !skipReindex {
		// The listener only starts once the index is built
		if _, err := indexerService.Reindex(ctx, indexer.TriggerStartup); err != nil {
			return fmt.Errorf("startup reindex failed: %w", err)
		}
	} else {
		logger.Info("Skipping startup reindex", zap.String("index", indexerService.IndexName()))
	}

	queryService := query.New(engine, cfg.Engine.IndexName,
		query.WithMaxHits(cfg.Query.MaxHits),
		query.WithPageSize(cfg.Query.ExportPageSize),
		query.WithKeepAlive(cfg.Query.KeepAlive()),
		query.WithLogger(logger),
	)

	apiServer := api.NewServer(queryService, indexerService, engine, cfg.Engine.Timeout(), logger)

	// Setup HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Shutdown server with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}
