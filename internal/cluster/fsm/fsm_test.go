package fsm

import (
	"encoding/json"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyq-io/steadyq/internal/config"
)

const validYAML = `
version: "1.0"
config:
  baseUrl: "http://example.com"
  workers: 2
  timeout: 5
  duration: 10
load:
  type: concurrent
`

func TestFSMApplyValidCommandInvokesCallback(t *testing.T) {
	var gotEpoch uint64
	var gotModel *config.Model
	f := New(func(epoch uint64, m *config.Model) {
		gotEpoch = epoch
		gotModel = m
	}, nil)

	cmd := ConfigCommand{Epoch: 1, YAML: []byte(validYAML)}
	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	res := f.Apply(&raft.Log{Data: data})
	assert.Nil(t, res)
	assert.Equal(t, uint64(1), gotEpoch)
	require.NotNil(t, gotModel)

	epoch, current := f.Current()
	assert.Equal(t, uint64(1), epoch)
	assert.Same(t, gotModel, current)
}

func TestFSMApplyInvalidYAMLReturnsErrorWithoutInvokingCallback(t *testing.T) {
	called := false
	f := New(func(uint64, *config.Model) { called = true }, nil)

	cmd := ConfigCommand{Epoch: 1, YAML: []byte("not: [valid")}
	data, _ := json.Marshal(cmd)

	res := f.Apply(&raft.Log{Data: data})
	assert.Error(t, res.(error))
	assert.False(t, called)
}

func TestFSMSnapshotAndRestoreRoundTripsEpoch(t *testing.T) {
	f := New(nil, nil)
	cmd := ConfigCommand{Epoch: 5, YAML: []byte(validYAML)}
	data, _ := json.Marshal(cmd)
	f.Apply(&raft.Log{Data: data})

	snap, err := f.Snapshot()
	require.NoError(t, err)

	sink := newFakeSink()
	require.NoError(t, snap.Persist(sink))

	f2 := New(nil, nil)
	require.NoError(t, f2.Restore(sink.reader()))
	epoch, _ := f2.Current()
	assert.Equal(t, uint64(5), epoch)
}
