// Package datasource implements a CSV/JSON row iterator used to feed
// per-iteration variable bindings into a scenario execution.
package datasource

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"

	"github.com/steadyq-io/steadyq/internal/scenario"
)

// Row is one record, keyed by column/field name.
type Row map[string]string

// Source is an immutable row table with a configured access strategy.
type Source struct {
	rows     []Row
	strategy scenario.DataStrategy
	seqIdx   atomic.Uint64
	cycIdx   atomic.Uint64
	rngMu    sync.Mutex
	rng      *rand.Rand
}

// Load reads path per cfg.Format and builds a Source.
func Load(cfg scenario.DataFileConfig) (*Source, error) {
	var rows []Row
	var err error
	switch cfg.Format {
	case scenario.DataFormatCSV:
		rows, err = loadCSV(cfg.Path)
	case scenario.DataFormatJSON:
		rows, err = loadJSON(cfg.Path)
	default:
		return nil, fmt.Errorf("datasource: unknown format %q", cfg.Format)
	}
	if err != nil {
		return nil, err
	}
	return &Source{
		rows:     rows,
		strategy: cfg.Strategy,
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

func loadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func loadJSON(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(raw))
	for _, rec := range raw {
		row := make(Row, len(rec))
		for k, v := range rec {
			row[k] = fmt.Sprintf("%v", v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ErrExhausted is returned by Next under the sequential strategy once
// every row has been consumed.
var ErrExhausted = fmt.Errorf("datasource: sequential source exhausted")

// Next returns the next row per the configured strategy.
func (s *Source) Next() (Row, error) {
	if len(s.rows) == 0 {
		return nil, fmt.Errorf("datasource: empty row table")
	}
	switch s.strategy {
	case scenario.DataStrategySequential:
		idx := s.seqIdx.Add(1) - 1
		if idx >= uint64(len(s.rows)) {
			return nil, ErrExhausted
		}
		return s.rows[idx], nil
	case scenario.DataStrategyCycle:
		idx := s.cycIdx.Add(1) - 1
		return s.rows[idx%uint64(len(s.rows))], nil
	default: // random
		s.rngMu.Lock()
		idx := s.rng.Intn(len(s.rows))
		s.rngMu.Unlock()
		return s.rows[idx], nil
	}
}

// Len reports the row count.
func (s *Source) Len() int { return len(s.rows) }
