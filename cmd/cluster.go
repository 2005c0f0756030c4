package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/cluster/discovery"
	"github.com/steadyq-io/steadyq/internal/cluster/fetch"
	"github.com/steadyq-io/steadyq/internal/cluster/fsm"
	"github.com/steadyq-io/steadyq/internal/config"
	"github.com/steadyq-io/steadyq/internal/controlplane"
	"github.com/steadyq-io/steadyq/internal/hotreload"
	"github.com/steadyq-io/steadyq/internal/memguard"
	"github.com/steadyq-io/steadyq/internal/telemetry"
	"github.com/steadyq-io/steadyq/internal/workerpool"
)

var (
	clusterConfigPath string
	clusterEnabled     bool
	clusterBindAddr    string
	clusterNodesFlag   string
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run a SteadyQ node (standalone or clustered) driven by a YAML scenario config",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCluster()
	},
}

func init() {
	clusterCmd.Flags().StringVarP(&clusterConfigPath, "config", "c", "", "path to scenario YAML config (required)")
	clusterCmd.Flags().BoolVar(&clusterEnabled, "cluster", false, "join a cluster instead of running standalone")
	clusterCmd.Flags().StringVar(&clusterBindAddr, "cluster-bind-addr", "", "address this node binds its consensus transport to (overrides CLUSTER_BIND_ADDR)")
	clusterCmd.Flags().StringVar(&clusterNodesFlag, "cluster-nodes", "", "comma-separated static peer list (overrides CLUSTER_NODES)")
	viper.BindPFlag("cluster.enabled", clusterCmd.Flags().Lookup("cluster"))
	viper.BindPFlag("cluster.bindAddr", clusterCmd.Flags().Lookup("cluster-bind-addr"))
	viper.BindPFlag("cluster.nodes", clusterCmd.Flags().Lookup("cluster-nodes"))
	rootCmd.AddCommand(clusterCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func runCluster() error {
	log, _ := zap.NewProduction()
	defer log.Sync()

	if clusterConfigPath == "" {
		return fmt.Errorf("--config is required")
	}

	model, err := config.LoadFile(clusterConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	maxHistogramLabels := envIntOr("MAX_HISTOGRAM_LABELS", 200)
	hub := telemetry.NewHub(maxHistogramLabels, telemetry.DefaultPoolConfig().ReuseThreshold, log)

	telemetry.SetTrackingActive(envOr("PERCENTILE_TRACKING_ENABLED", "true") == "true")
	if secs := envIntOr("HISTOGRAM_ROTATION_INTERVAL", 0); secs > 0 {
		hub.Percentiles.StartRotation(time.Duration(secs) * time.Second)
	}

	guardCfg := memguard.DefaultConfig()
	guardCfg.WarningThresholdPercent = envFloatOr("MEMORY_WARNING_THRESHOLD_PERCENT", guardCfg.WarningThresholdPercent)
	guardCfg.CriticalThresholdPercent = envFloatOr("MEMORY_CRITICAL_THRESHOLD_PERCENT", guardCfg.CriticalThresholdPercent)
	if v := envOr("AUTO_DISABLE_PERCENTILES_ON_WARNING", ""); v != "" {
		guardCfg.AutoDisableOnWarning = v == "true"
	}
	guard := memguard.New(guardCfg, hub, log)

	baseClient := &http.Client{Timeout: 30 * time.Second}
	pool := workerpool.New(model.PoolConfig, baseClient, hub, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go guard.Run(ctx)

	currentRaw := model.Raw
	pool.Start(ctx)

	enabled := clusterEnabled || envOr("CLUSTER_ENABLED", "") == "true"

	var role controlplane.ClusterRole
	var node *fsm.Node
	nodeID := envOr("CLUSTER_NODE_ID", uuid.New().String())
	region := envOr("CLUSTER_REGION", "")

	if enabled {
		bindAddr := clusterBindAddr
		if bindAddr == "" {
			bindAddr = envOr("CLUSTER_BIND_ADDR", "0.0.0.0:7000")
		}
		dataDir := envOr("CLUSTER_DATA_DIR", "./steadyq-raft-"+nodeID)

		node, err = fsm.NewNode(fsm.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
			MinPeers: envIntOr("CLUSTER_MIN_PEERS", 0),
			OnApply: func(epoch uint64, m *config.Model) {
				currentRaw = m.Raw
				pool.ApplyConfig(m.PoolConfig)
				log.Info("applied committed config", zap.Uint64("epoch", epoch))
			},
		}, log)
		if err != nil {
			return fmt.Errorf("init cluster node: %w", err)
		}
		defer node.Shutdown()

		discMode := discovery.ModeStatic
		if envOr("DISCOVERY_MODE", "static") == "consul" {
			discMode = discovery.ModeConsul
		}
		nodesList := clusterNodesFlag
		if nodesList == "" {
			nodesList = envOr("CLUSTER_NODES", "")
		}
		peers, derr := discovery.Discover(ctx, discovery.Config{
			Mode:        discMode,
			StaticNodes: nodesList,
			ConsulAddr:  envOr("CONSUL_ADDR", ""),
			ServiceName: envOr("CONSUL_SERVICE_NAME", "steadyq"),
			MinPeers:    envIntOr("CLUSTER_MIN_PEERS", 0),
			SelfID:      nodeID,
			SelfAddr:    envOr("CLUSTER_SELF_ADDR", bindAddr),
		}, log)
		if derr != nil {
			log.Warn("peer discovery failed, starting in forming state", zap.Error(derr))
			peers = discovery.Peers{nodeID: envOr("CLUSTER_SELF_ADDR", bindAddr)}
		}
		if err := node.Bootstrap(peers); err != nil {
			log.Warn("bootstrap skipped", zap.Error(err))
		}

		role = &clusterRole{node: node}

		if src := envOr("CLUSTER_CONFIG_SOURCE", ""); src != "" {
			go watchLeadershipAndFetch(ctx, node, src, log)
		}
	}

	watcher := hotreload.New(clusterConfigPath, config.DebounceDefault, func(yaml []byte) error {
		if node != nil {
			return node.Propose(yaml)
		}
		return nil
	}, log)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("hot-reload watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		for ev := range watcher.Events() {
			if ev.Valid && ev.Config != nil && node == nil {
				currentRaw = ev.Config.Raw
				pool.ApplyConfig(ev.Config.PoolConfig)
				log.Info("applied hot-reloaded config")
			} else if !ev.Valid {
				log.Warn("hot-reload rejected", zap.Error(ev.Err))
			}
		}
	}()

	cp := controlplane.New(
		controlplane.NodeInfo{NodeID: nodeID, Region: region},
		pool, hub, guard, role,
		func() []byte { return currentRaw },
		log,
	)

	healthAddr := envOr("CLUSTER_HEALTH_ADDR", "0.0.0.0:8080")
	srv := &http.Server{Addr: healthAddr, Handler: cp.Router()}
	ln, err := net.Listen("tcp", healthAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", healthAddr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("control plane server stopped", zap.Error(err))
		}
	}()
	log.Info("steadyq node started", zap.String("node_id", nodeID), zap.String("health_addr", healthAddr), zap.Bool("clustered", enabled))

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	pool.Stop()
	return nil
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func watchLeadershipAndFetch(ctx context.Context, node *fsm.Node, source string, log *zap.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	fetched := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !node.IsLeader() {
				fetched = false
				continue
			}
			if fetched {
				continue
			}
			cfg := fetch.Config{
				Timeout:  time.Duration(envIntOr("CLUSTER_CONFIG_TIMEOUT_SECS", 30)) * time.Second,
				KVAddr:   envOr("CLUSTER_CONFIG_KV_ADDR", ""),
				KVKey:    envOr("CLUSTER_CONFIG_KV_KEY", ""),
				S3Bucket: envOr("CLUSTER_CONFIG_S3_BUCKET", ""),
				S3Object: envOr("CLUSTER_CONFIG_S3_OBJECT", ""),
			}
			if cfg.KVAddr != "" {
				cfg.Source = fetch.SourceKV
			} else if cfg.S3Bucket != "" {
				cfg.Source = fetch.SourceObjectStorage
			} else {
				return
			}
			raw, err := fetch.Fetch(ctx, cfg)
			if err != nil {
				log.Warn("leader auto-fetch failed", zap.Error(err))
				fetched = true
				continue
			}
			if err := node.Propose(raw); err != nil {
				log.Warn("leader auto-fetch propose failed", zap.Error(err))
			}
			fetched = true
		}
	}
}

// clusterRole adapts fsm.Node to controlplane.ClusterRole.
type clusterRole struct {
	node *fsm.Node
}

func (c *clusterRole) IsClustered() bool { return true }
func (c *clusterRole) IsLeader() bool    { return c.node.IsLeader() }
func (c *clusterRole) LeaderHint() string { return c.node.LeaderAddr() }
func (c *clusterRole) Propose(ctx context.Context, yaml []byte) error {
	if err := c.node.Propose(yaml); err != nil {
		if errors.Is(err, fsm.ErrNoQuorum) {
			return controlplane.ErrNoQuorum
		}
		return err
	}
	return nil
}
