package fsm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"go.uber.org/zap"
)

// ErrNoQuorum is returned by Propose when raft can't commit the entry
// because the cluster currently lacks a quorum.
var ErrNoQuorum = errors.New("fsm: no quorum available")

// NodeState is one of the four cluster membership states, derived from
// the underlying raft.Raft state plus a pre-quorum "Forming" state raft
// itself has no notion of.
type NodeState int

const (
	Forming NodeState = iota
	Follower
	Leader
	Standby
)

func (s NodeState) String() string {
	switch s {
	case Forming:
		return "Forming"
	case Follower:
		return "Follower"
	case Leader:
		return "Leader"
	case Standby:
		return "Standby"
	default:
		return "Unknown"
	}
}

// Node wraps a raft.Raft instance plus the FSM it drives.
type Node struct {
	ID       string
	BindAddr string
	MinPeers int

	raft    *raft.Raft
	transport *raft.NetworkTransport
	store   *FSM
	log     *zap.Logger

	standby atomic.Bool
}

// Config configures one cluster node.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	MinPeers  int
	OnApply   ApplyFunc
}

// NewNode constructs a raft.Raft instance bound at cfg.BindAddr, backed
// by a bbolt log/stable store under cfg.DataDir.
func NewNode(cfg Config, log *zap.Logger) (*Node, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("fsm: create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.LogOutput = &zapWriter{log: log}

	store := New(cfg.OnApply, log)

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("fsm: open bolt log store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, nil)
	if err != nil {
		return nil, fmt.Errorf("fsm: open snapshot store: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, nil, 3, 10*time.Second, nil)
	if err != nil {
		return nil, fmt.Errorf("fsm: open raft transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, store, logStore, logStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("fsm: start raft: %w", err)
	}

	return &Node{
		ID:        cfg.NodeID,
		BindAddr:  cfg.BindAddr,
		MinPeers:  cfg.MinPeers,
		raft:      r,
		transport: transport,
		store:     store,
		log:       log,
	}, nil
}

// Bootstrap forms the cluster once len(peers) >= MinPeers is observed.
func (n *Node) Bootstrap(peers map[string]string) error {
	if len(peers) < n.MinPeers {
		return fmt.Errorf("fsm: need %d peers to bootstrap, have %d", n.MinPeers, len(peers))
	}
	servers := []raft.Server{{ID: raft.ServerID(n.ID), Address: raft.ServerAddress(n.BindAddr)}}
	for id, addr := range peers {
		if id == n.ID {
			continue
		}
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
	}
	future := n.raft.BootstrapCluster(raft.Configuration{Servers: servers})
	return future.Error()
}

// AddVoter is called by the current leader to admit a newly-discovered
// peer.
func (n *Node) AddVoter(id, addr string) error {
	return n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// IsLeader reports whether this node currently holds raft leadership.
func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

// LeaderAddr returns the current leader's address, if known.
func (n *Node) LeaderAddr() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// State maps the underlying raft state onto the node's reported state.
func (n *Node) State() NodeState {
	if n.standby.Load() {
		return Standby
	}
	switch n.raft.State() {
	case raft.Leader:
		return Leader
	case raft.Follower, raft.Candidate:
		return Follower
	default:
		return Forming
	}
}

// SetStandby marks the node as in standby mode, overriding
// the raft-state-derived reporting without affecting consensus itself.
func (n *Node) SetStandby(v bool) { n.standby.Store(v) }

// Propose submits a new ConfigCommand to the replicated log. Only the
// leader can commit; followers should route proposals to the leader at
// the HTTP layer rather than calling this directly.
func (n *Node) Propose(yaml []byte) error {
	epoch, _ := n.store.Current()
	cmd := ConfigCommand{Epoch: epoch + 1, YAML: yaml}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	future := n.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrEnqueueTimeout) || errors.Is(err, raft.ErrLeadershipLost) {
			return ErrNoQuorum
		}
		return err
	}
	return nil
}

// Shutdown stops raft and closes the transport.
func (n *Node) Shutdown() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return err
	}
	return n.transport.Close()
}

// FSM exposes the underlying FSM for read-only current-config queries.
func (n *Node) FSM() *FSM { return n.store }
