// Package fsm implements the cluster state machine: a replicated log
// over ConfigCommand{epoch,yaml} applied through hashicorp/raft,
// converging every member on a byte-identical config.
package fsm

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/config"
)

// ConfigCommand is the one command type replicated through the log.
type ConfigCommand struct {
	Epoch uint64 `json:"epoch"`
	YAML  []byte `json:"yaml"`
}

// ApplyFunc is invoked once per committed ConfigCommand, on every node
// (leader and followers alike), and should reconfigure the local worker
// pool.
type ApplyFunc func(epoch uint64, model *config.Model)

// FSM implements raft.FSM over ConfigCommand entries.
type FSM struct {
	mu      sync.Mutex
	epoch   uint64
	current *config.Model
	onApply ApplyFunc
	log     *zap.Logger
}

// New constructs an FSM. onApply fires for every committed command,
// including ones replayed from a restored snapshot.
func New(onApply ApplyFunc, log *zap.Logger) *FSM {
	if log == nil {
		log = zap.NewNop()
	}
	return &FSM{onApply: onApply, log: log}
}

// Apply decodes and applies one committed log entry.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd ConfigCommand
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		f.log.Error("fsm: failed to decode command", zap.Error(err))
		return err
	}

	model, err := config.LoadBytes(cmd.YAML)
	if err != nil {
		f.log.Error("fsm: committed config failed validation", zap.Error(err))
		return err
	}

	f.mu.Lock()
	f.epoch = cmd.Epoch
	f.current = model
	f.mu.Unlock()

	if f.onApply != nil {
		f.onApply(cmd.Epoch, model)
	}
	return nil
}

// Current returns the most recently applied config and its epoch.
func (f *FSM) Current() (uint64, *config.Model) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch, f.current
}

// Snapshot captures the current (epoch, raw yaml) pair.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var raw []byte
	if f.current != nil {
		raw = f.current.Raw
	}
	return &fsmSnapshot{epoch: f.epoch, doc: raw}, nil
}

// Restore replays a prior snapshot: decodes the snapshotted YAML back into
// a config.Model and fires onApply, the same as a freshly committed
// command would, so a node that joins via snapshot rather than full log
// replay still ends up with a non-nil current config.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap fsmSnapshotData
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("fsm: restore decode: %w", err)
	}

	f.mu.Lock()
	f.epoch = snap.Epoch
	f.mu.Unlock()

	if len(snap.Doc) == 0 {
		return nil
	}
	model, err := config.LoadBytes(snap.Doc)
	if err != nil {
		return fmt.Errorf("fsm: restore config: %w", err)
	}

	f.mu.Lock()
	f.current = model
	f.mu.Unlock()

	if f.onApply != nil {
		f.onApply(snap.Epoch, model)
	}
	return nil
}

type fsmSnapshotData struct {
	Epoch uint64 `json:"epoch"`
	Doc   []byte `json:"doc"`
}

type fsmSnapshot struct {
	epoch uint64
	doc   []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(fsmSnapshotData{Epoch: s.epoch, Doc: s.doc})
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
