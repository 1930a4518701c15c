package store

import "time"

// Recorder is the subset of *metrics.Metrics instrumented needs, kept
// narrow here so this package doesn't import internal/metrics (which
// would create an import cycle through internal/config).
type Recorder interface {
	RecordStoreOperation(operation, status string, duration time.Duration)
	RecordFlush(duration time.Duration)
}

// instrumented wraps a Store, recording operation counts and latencies
// against a Recorder. It is placed at the top of the store stack by
// internal/config so every layer beneath it is covered by one observation
// point per logical operation.
type instrumented struct {
	below Store
	rec   Recorder
}

// Instrument wraps below so every Store call is recorded against rec.
func Instrument(below Store, rec Recorder) Store {
	return &instrumented{below: below, rec: rec}
}

func (s *instrumented) observe(op string, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.rec.RecordStoreOperation(op, status, time.Since(start))
}

func (s *instrumented) Read(index uint32) ([]byte, error) {
	start := time.Now()
	v, err := s.below.Read(index)
	s.observe("read", err, start)
	return v, err
}

func (s *instrumented) Write(index uint32, value []byte) error {
	start := time.Now()
	err := s.below.Write(index, value)
	s.observe("write", err, start)
	return err
}

func (s *instrumented) Remove(index uint32) error {
	start := time.Now()
	err := s.below.Remove(index)
	s.observe("remove", err, start)
	return err
}

func (s *instrumented) Exists(index uint32) (bool, error) {
	start := time.Now()
	v, err := s.below.Exists(index)
	s.observe("exists", err, start)
	return v, err
}

func (s *instrumented) Flush() error {
	start := time.Now()
	err := s.below.Flush()
	s.rec.RecordFlush(time.Since(start))
	return err
}
