// Package discovery implements peer discovery: either a static
// CLUSTER_NODES list or polling a Consul catalog, retrying with backoff
// until CLUSTER_MIN_PEERS peers are seen.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Mode selects a discovery backend.
type Mode int

const (
	ModeStatic Mode = iota
	ModeConsul
)

// Config configures peer discovery.
type Config struct {
	Mode        Mode
	StaticNodes string // comma-separated "id=addr" or bare "addr" entries
	ConsulAddr  string
	ServiceName string
	MinPeers    int
	SelfID      string
	SelfAddr    string
}

// Peers maps node ID to its raft bind address.
type Peers map[string]string

// ParseStatic parses CLUSTER_NODES: a comma-separated list
// of "id=addr" pairs, or bare addresses (in which case the address
// itself is used as the ID).
func ParseStatic(s string) Peers {
	out := make(Peers)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if id, addr, ok := strings.Cut(entry, "="); ok {
			out[id] = addr
		} else {
			out[entry] = entry
		}
	}
	return out
}

// Discover blocks, retrying with backoff, until at least cfg.MinPeers
// peers (excluding self) are known, or ctx is cancelled.
func Discover(ctx context.Context, cfg Config, log *zap.Logger) (Peers, error) {
	if log == nil {
		log = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Every(2*time.Second), 1)

	for {
		peers, err := discoverOnce(ctx, cfg)
		if err == nil {
			delete(peers, cfg.SelfID)
			if len(peers) >= cfg.MinPeers {
				peers[cfg.SelfID] = cfg.SelfAddr
				return peers, nil
			}
			log.Info("discovery: not enough peers yet", zap.Int("have", len(peers)), zap.Int("need", cfg.MinPeers))
		} else {
			log.Warn("discovery: lookup failed, retrying", zap.Error(err))
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

func discoverOnce(ctx context.Context, cfg Config) (Peers, error) {
	switch cfg.Mode {
	case ModeStatic:
		return ParseStatic(cfg.StaticNodes), nil
	case ModeConsul:
		return discoverConsul(ctx, cfg)
	default:
		return nil, fmt.Errorf("discovery: unknown mode %d", cfg.Mode)
	}
}

func discoverConsul(ctx context.Context, cfg Config) (Peers, error) {
	client, err := api.NewClient(&api.Config{Address: cfg.ConsulAddr})
	if err != nil {
		return nil, fmt.Errorf("discovery: consul client: %w", err)
	}
	services, _, err := client.Catalog().Service(cfg.ServiceName, "", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discovery: consul catalog lookup: %w", err)
	}

	out := make(Peers, len(services))
	for _, svc := range services {
		id := svc.ServiceID
		if id == "" {
			id = svc.Node
		}
		addr := fmt.Sprintf("%s:%d", svc.ServiceAddress, svc.ServicePort)
		if svc.ServiceAddress == "" {
			addr = fmt.Sprintf("%s:%d", svc.Address, svc.ServicePort)
		}
		out[id] = addr
	}
	return out, nil
}
