package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/config"
	"github.com/steadyq-io/steadyq/internal/memguard"
	"github.com/steadyq-io/steadyq/internal/telemetry"
	"github.com/steadyq-io/steadyq/internal/workerpool"
)

var (
	cfgFile string

	url      string
	method   string
	body     string
	rate     int
	users    int
	duration int
	rampUp   int
	rampDown int
	timeout  int
	headers  []string
)

var rootCmd = &cobra.Command{
	Use:   "steadyq",
	Short: "SteadyQ - distributed HTTP load generator",
	Long: `
SteadyQ drives HTTP load against a target according to a concurrency or
RPS load model, tracking latency percentiles, error rates, and
connection-pool reuse throughout the run.

Run "steadyq -u <url>" for a one-off ad hoc test against a single
endpoint, or "steadyq cluster --config <file.yaml>" for the full
scenario-driven, hot-reloadable, optionally clustered engine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("url") {
			return cmd.Help()
		}
		return runHeadless()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steadyq.yaml)")

	rootCmd.Flags().StringVarP(&url, "url", "u", "", "target URL for an ad hoc test (enables headless mode)")
	rootCmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	rootCmd.Flags().StringVarP(&body, "body", "b", "", "request body")
	rootCmd.Flags().IntVarP(&rate, "rate", "r", 10, "target RPS (open loop)")
	rootCmd.Flags().IntVarP(&users, "users", "U", 0, "concurrent workers (closed loop, overrides rate)")
	rootCmd.Flags().IntVarP(&duration, "duration", "d", 10, "steady-state duration in seconds")
	rootCmd.Flags().IntVar(&rampUp, "ramp-up", 0, "ramp-up duration in seconds")
	rootCmd.Flags().IntVar(&rampDown, "ramp-down", 0, "ramp-down duration in seconds")
	rootCmd.Flags().IntVar(&timeout, "timeout", 10, "per-request timeout in seconds")
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, `HTTP header, e.g. "Key: Value"`)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".steadyq")
		}
	}
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

// runHeadless builds an ad hoc, single-request load model out of the CLI
// flags and drives it through the same worker pool, telemetry hub, and
// memory guard the cluster engine uses, then prints a final summary. No
// `--url` config document ever has scenarios, so the pool falls back to
// its single-request iteration path.
func runHeadless() error {
	log, _ := zap.NewProduction()
	defer log.Sync()

	doc := config.Document{
		Version: config.MinSupportedVersion,
		Config: config.RequestConfig{
			BaseURL:        url,
			Workers:        headlessWorkers(),
			TimeoutSeconds: timeout,
			DurationSecs:   duration + rampUp + rampDown,
			Method:         method,
			Body:           body,
			CustomHeaders:  parseHeaders(headers),
		},
		Load: headlessLoad(),
	}

	model, err := config.Parse(doc)
	if err != nil {
		return fmt.Errorf("build load model: %w", err)
	}

	hub := telemetry.NewHub(200, telemetry.DefaultPoolConfig().ReuseThreshold, log)
	guard := memguard.New(memguard.DefaultConfig(), hub, log)

	baseClient := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	pool := workerpool.New(model.PoolConfig, baseClient, hub, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go guard.Run(ctx)
	pool.Start(ctx)

	progress := time.NewTicker(2 * time.Second)
	defer progress.Stop()
	deadline := time.NewTimer(model.PoolConfig.TestDuration)
	defer deadline.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline.C:
			break wait
		case <-progress.C:
			log.Info("steadyq: progress",
				zap.Float64("rps", hub.Throughput.TotalRps()),
				zap.Duration("elapsed", pool.Elapsed()))
		}
	}

	pool.Stop()
	printSummary(hub)
	return nil
}

func headlessWorkers() int {
	if users > 0 {
		return users
	}
	return 1
}

// headlessLoad picks the load model matching the closed-loop/open-loop
// flags: a fixed worker count if --users is set, otherwise an RPS target,
// ramping over the requested ramp-up/steady/ramp-down window when either
// ramp flag is non-zero.
func headlessLoad() config.LoadConfig {
	if users > 0 {
		return config.LoadConfig{Type: "concurrent"}
	}
	if rampUp > 0 || rampDown > 0 {
		return config.LoadConfig{
			Type:         "rampRps",
			Min:          0,
			Max:          float64(rate),
			RampDuration: fmt.Sprintf("%ds", rampUp+duration+rampDown),
		}
	}
	return config.LoadConfig{Type: "rps", Target: float64(rate)}
}

func parseHeaders(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return out
}

func printSummary(hub *telemetry.Hub) {
	snap := hub.Percentiles.Snapshot("default")
	pool := hub.Pool.Snapshot()
	fmt.Println("\n--- steadyq summary ---")
	fmt.Printf("requests: %d  rps: %.1f\n", pool.Total, hub.Throughput.TotalRps())
	fmt.Printf("p50: %dus  p90: %dus  p95: %dus  p99: %dus  p99.9: %dus\n",
		snap.P50, snap.P90, snap.P95, snap.P99, snap.P999)
	fmt.Printf("connection reuse rate: %.1f%%\n", pool.ReuseRate*100)
}
