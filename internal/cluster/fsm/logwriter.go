package fsm

import (
	"strings"

	"go.uber.org/zap"
)

// zapWriter adapts raft's plain io.Writer log output onto the zap logger
// used by every other cluster component, so raft's internal chatter
// doesn't fall back to unstructured stdout.
type zapWriter struct {
	log *zap.Logger
}

func (w *zapWriter) Write(p []byte) (int, error) {
	w.log.Debug("raft", zap.String("line", strings.TrimRight(string(p), "\n")))
	return len(p), nil
}
