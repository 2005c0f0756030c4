// Package hotreload watches a config file, debounces rapid successive
// writes, re-parses and re-validates it, and emits ReloadEvents.
package hotreload

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/config"
)

// ReloadEvent is emitted on every debounced file-change, successful or
// not.
type ReloadEvent struct {
	Valid  bool
	Config *config.Model
	Err    error
}

// Propose is the cluster-mode hook: when set, a valid reload is proposed
// to consensus instead of being applied locally.
type Propose func(yaml []byte) error

// Watcher debounces filesystem events on a single config file and emits
// ReloadEvents on Events().
type Watcher struct {
	path     string
	debounce time.Duration
	log      *zap.Logger
	propose  Propose

	events chan ReloadEvent
	last   *config.Model
}

// New constructs a Watcher for path. debounce defaults to
// config.DebounceDefault if zero. If propose is non-nil, the watcher runs
// in cluster mode and never applies a parsed config itself.
func New(path string, debounce time.Duration, propose Propose, log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = config.DebounceDefault
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{path: path, debounce: debounce, log: log, propose: propose, events: make(chan ReloadEvent, 8)}
}

// Events returns the channel of ReloadEvents. Buffered; callers should
// drain it promptly.
func (w *Watcher) Events() <-chan ReloadEvent { return w.events }

// Last returns the most recently successfully-parsed config, or nil if
// none has loaded yet.
func (w *Watcher) Last() *config.Model { return w.last }

// Run watches w.path until ctx is done, debouncing bursts of fsnotify
// events into a single re-parse per quiet period.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("hotreload: watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	model, err := config.LoadFile(w.path)
	if err != nil {
		w.log.Warn("hotreload: reload failed, keeping previous config", zap.Error(err))
		w.events <- ReloadEvent{Valid: false, Err: err, Config: w.last}
		return
	}

	if w.propose != nil {
		raw, rerr := readRaw(w.path)
		if rerr != nil {
			w.events <- ReloadEvent{Valid: false, Err: rerr, Config: w.last}
			return
		}
		if perr := w.propose(raw); perr != nil {
			w.log.Warn("hotreload: propose to consensus failed", zap.Error(perr))
			w.events <- ReloadEvent{Valid: false, Err: perr, Config: w.last}
			return
		}
		// The node's own config is applied later via the consensus
		// commit callback, not here.
		w.events <- ReloadEvent{Valid: true, Config: model}
		return
	}

	w.last = model
	w.events <- ReloadEvent{Valid: true, Config: model}
}
