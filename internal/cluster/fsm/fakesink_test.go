package fsm

import (
	"bytes"
	"io"
)

// fakeSink is a minimal raft.SnapshotSink for exercising Persist/Restore
// round trips without a real raft.FileSnapshotStore.
type fakeSink struct {
	buf bytes.Buffer
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (s *fakeSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *fakeSink) Close() error                { return nil }
func (s *fakeSink) ID() string                  { return "fake" }
func (s *fakeSink) Cancel() error                { return nil }

func (s *fakeSink) reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
