package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/synapsedb/engine/pkg/api"
	"github.com/synapsedb/engine/pkg/config"
	"github.com/synapsedb/engine/pkg/engine"
	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/wire"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "engined",
	Short:   "engined runs the concept/association storage engine as a standalone process",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("engined version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine, the wire protocol listener, and the admin HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		wireAddr, _ := cmd.Flags().GetString("wire-addr")
		adminAddr, _ := cmd.Flags().GetString("admin-addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// Explicit flags always win over the config file; GetString/GetInt
		// etc. return the flag default when unset, so only apply a flag's
		// value when the operator actually passed it.
		f := cmd.Flags()
		applyString(f, "data-dir", &cfg.DataDir)
		applyInt(f, "num-shards", &cfg.NumShards)
		applyInt(f, "vector-dim", &cfg.VectorConfig.D)
		applyInt(f, "vector-pq-subspaces", &cfg.VectorConfig.M)
		applyInt(f, "vector-pq-centroids", &cfg.VectorConfig.K)
		applyInt(f, "hnsw-m", &cfg.HNSWConfig.M)
		applyInt(f, "hnsw-ef-construction", &cfg.HNSWConfig.EfConstruction)
		applyInt(f, "hnsw-ef-search", &cfg.HNSWConfig.EfSearch)
		applyDuration(f, "reconcile-min-interval", &cfg.ReconcileMinInterval)
		applyDuration(f, "reconcile-max-interval", &cfg.ReconcileMaxInterval)
		applyDuration(f, "tx-timeout", &cfg.TxTimeout)

		fmt.Println("Starting engine...")
		fmt.Printf("  Data directory: %s\n", cfg.DataDir)
		fmt.Printf("  Shards:         %d\n", cfg.NumShards)
		fmt.Printf("  Vector dim:     %d\n", cfg.VectorConfig.D)
		fmt.Println()

		e, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		fmt.Println("✓ Engine opened")

		wireServer, err := wire.NewServer(e, wireAddr)
		if err != nil {
			return fmt.Errorf("failed to start wire server: %w", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			if err := wireServer.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("wire server error: %w", err)
			}
		}()
		fmt.Printf("✓ Wire protocol listening on %s\n", wireServer.Addr())

		healthServer := api.NewHealthServer(e)
		go func() {
			if err := healthServer.Start(adminAddr); err != nil {
				errCh <- fmt.Errorf("admin server error: %w", err)
			}
		}()
		fmt.Printf("✓ Admin endpoints: http://%s/{health,ready,stats,metrics}\n", adminAddr)
		fmt.Println()
		fmt.Println("Engine is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}

		cancel()
		_ = wireServer.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		done := make(chan error, 1)
		go func() { done <- e.Close() }()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("engine shutdown error: %w", err)
			}
		case <-shutdownCtx.Done():
			return fmt.Errorf("engine shutdown timed out")
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func applyString(f *pflag.FlagSet, name string, dst *string) {
	if f.Changed(name) {
		*dst, _ = f.GetString(name)
	}
}

func applyInt(f *pflag.FlagSet, name string, dst *int) {
	if f.Changed(name) {
		*dst, _ = f.GetInt(name)
	}
}

func applyDuration(f *pflag.FlagSet, name string, dst *time.Duration) {
	if f.Changed(name) {
		*dst, _ = f.GetDuration(name)
	}
}

func init() {
	startCmd.Flags().String("config", "", "Path to a YAML engine config file; explicit flags below override it")
	startCmd.Flags().String("data-dir", "./data", "Data directory for shard WALs, segments, and the coordinator decision log")
	startCmd.Flags().Int("num-shards", 1, "Number of concept shards")
	startCmd.Flags().String("wire-addr", "127.0.0.1:7070", "Address for the binary wire protocol listener")
	startCmd.Flags().String("admin-addr", "127.0.0.1:7071", "Address for the admin HTTP server (health, ready, stats, metrics)")
	startCmd.Flags().Int("vector-dim", 768, "Embedding vector dimension")
	startCmd.Flags().Int("vector-pq-subspaces", 48, "Number of product-quantization subspaces")
	startCmd.Flags().Int("vector-pq-centroids", 256, "Number of centroids per product-quantization subspace")
	startCmd.Flags().Int("hnsw-m", 16, "HNSW max neighbours per node")
	startCmd.Flags().Int("hnsw-ef-construction", 200, "HNSW construction-time candidate list size")
	startCmd.Flags().Int("hnsw-ef-search", 100, "HNSW search-time candidate list size")
	startCmd.Flags().Duration("reconcile-min-interval", 10*time.Millisecond, "Minimum interval between reconciler cycles")
	startCmd.Flags().Duration("reconcile-max-interval", 5*time.Second, "Maximum interval between reconciler cycles when idle")
	startCmd.Flags().Duration("tx-timeout", 5*time.Second, "Cross-shard two-phase commit prepare timeout")
}
