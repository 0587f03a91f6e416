package main

// fvnode is the chain node binary: a cobra root with a `start` subcommand
// that loads configuration, brings up a one- or many-node cluster, mounts
// the HTTP surface and serves until interrupted.

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fractal-vortex-chain/core"
	"fractal-vortex-chain/internal/httpapi"
	"fractal-vortex-chain/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "fvnode"}
	root.AddCommand(startCmd())
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("fvnode: fatal")
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a chain node (or a cluster of them) and serve the HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			return runStart(env)
		},
	}
	cmd.Flags().String("env", "", "optional config overlay name, e.g. \"dev\"")
	return cmd
}

func runStart(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	minerAddr := core.Address(cfg.Mining.DefaultAddress)

	baseCfg := core.NodeConfig{
		PeerID:          "fvnode",
		ListenAddr:      fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Network.P2PPort),
		DiscoveryTag:    cfg.Network.DiscoveryTag,
		BootstrapPeers:  cfg.Network.BootstrapPeers,
		EnergyThreshold: cfg.Consensus.EnergyThreshold,
		FractalLevels:   cfg.Consensus.FractalLevels,
		MaxPeers:        cfg.Network.MaxPeers,
		SyncIntervalSec: cfg.Consensus.SyncIntervalSec,
		MinerAddress:    minerAddr,
	}
	if baseCfg.DiscoveryTag == "" {
		baseCfg.DiscoveryTag = "fractal-vortex-chain"
	}
	if baseCfg.EnergyThreshold == 0 {
		baseCfg.EnergyThreshold = 1.0
	}
	if baseCfg.FractalLevels == 0 {
		baseCfg.FractalLevels = core.DefaultFractalLevels
	}

	cluster, err := core.NewClusterManager(cfg.Cluster.Size, baseCfg, func(i int) string {
		return filepath.Join(cfg.Storage.DataDir, fmt.Sprintf("node-%d", i))
	})
	if err != nil {
		return fmt.Errorf("build cluster: %w", err)
	}

	if err := cluster.StartAll(ctx); err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}
	defer cluster.Shutdown()

	var server *httpapi.Server
	if err := cluster.ExecuteOnNode(func(n *core.NodeInstance) error {
		if err := core.LoadGenesis(n.Store(), "mainnet-genesis.json"); err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		server = httpapi.NewServer(n)
		return nil
	}); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		logrus.WithField("addr", cfg.HTTP.ListenAddr).Info("fvnode: http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("fvnode: http server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("fvnode: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func configureLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			logrus.SetOutput(f)
		} else {
			logrus.WithError(err).Warn("fvnode: could not open log file, using stderr")
		}
	}
}
