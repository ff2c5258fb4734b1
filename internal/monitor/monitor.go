// Package monitor periodically publishes the capture runtime state to a
// status file and to InfluxDB.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/synthcap/scenecap/internal/influx"
	"github.com/synthcap/scenecap/internal/session"
)

// PointWriter is satisfied by *influx.Manager.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

var _ PointWriter = (*influx.Manager)(nil)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Session *session.Context
	// Influx is optional.
	Influx PointWriter
	// LastDBWrite is optional and reports the recorder's last flush time.
	LastDBWrite func() time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
	Interval    time.Duration
	// StatusFile is rewritten every interval when set.
	StatusFile string
}

// Status is the document written to the status file.
type Status struct {
	session.Snapshot
	LastDBWriteMs float64 `json:"lastDbWriteMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current status and one performance point per
// capturer.
func (s *Service) GetStatus() (Status, []*influxdb2_write.Point) {
	snap := s.deps.Session.Get()
	st := Status{Snapshot: snap}
	if s.deps.LastDBWrite != nil {
		st.LastDBWriteMs = float64(s.deps.LastDBWrite().Microseconds()) / 1000
	}

	now := s.deps.Clock.Now()
	points := make([]*influxdb2_write.Point, 0, len(snap.Capturers))
	for _, c := range snap.Capturers {
		points = append(points, influxdb2_write.NewPoint(
			"capture",
			map[string]string{
				"scene":    snap.Scene,
				"capturer": c.Name,
				"state":    c.State.String(),
			},
			map[string]any{
				"frames":        c.Frames,
				"frames_left":   c.FramesLeft,
				"progress":      c.Progress,
				"captured_fps":  c.CapturedFPS,
				"elapsed_s":     c.Elapsed.Seconds(),
				"remaining_s":   c.Remaining.Seconds(),
				"marker_index":  snap.MarkerIndex,
				"last_db_write": st.LastDBWriteMs,
			},
			now,
		))
	}
	return st, points
}

// Publish writes one status update.
func (s *Service) Publish(ctx context.Context) error {
	st, points := s.GetStatus()

	if s.deps.StatusFile != "" {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		if err := os.WriteFile(s.deps.StatusFile, data, 0644); err != nil {
			return fmt.Errorf("writing status file: %w", err)
		}
	}

	if s.deps.Influx != nil && st.Running() {
		for _, p := range points {
			if err := s.deps.Influx.WritePoint(ctx, influx.BucketPerformance, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := s.deps.Clock.Ticker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Publish(context.Background()); err != nil {
					logger.Error("Error publishing status", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
