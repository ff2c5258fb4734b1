package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/internal/influx"
	"github.com/synthcap/scenecap/internal/session"
)

type fakeWriter struct {
	mu      sync.Mutex
	buckets []string
	points  []*influxdb2_write.Point
	err     error
}

func (f *fakeWriter) WritePoint(_ context.Context, bucket string, p *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.buckets = append(f.buckets, bucket)
	f.points = append(f.points, p)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func runningSession() *session.Context {
	ctx := session.NewContext()
	ctx.Set(session.Snapshot{
		Scene:       "Yard",
		Coordinator: "active",
		MarkerIndex: 1,
		Markers:     3,
		Capturers: []session.CapturerStatus{
			{Name: "front", SessionID: "s-1", Stats: capturer.Stats{State: capturer.Running, Frames: 10, FramesLeft: 90, Progress: 0.1}},
			{Name: "top", Stats: capturer.Stats{State: capturer.Active}},
		},
	})
	return ctx
}

func TestGetStatus(t *testing.T) {
	mock := clock.NewMock()
	svc := NewService(Dependencies{
		Session:     runningSession(),
		Clock:       mock,
		LastDBWrite: func() time.Duration { return 1500 * time.Microsecond },
	})

	st, points := svc.GetStatus()
	assert.Equal(t, "Yard", st.Scene)
	assert.Equal(t, 1.5, st.LastDBWriteMs)
	require.Len(t, points, 2)

	p := points[0]
	assert.Equal(t, "capture", p.Name())
	assert.Equal(t, mock.Now(), p.Time())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "front", tags["capturer"])
	assert.Equal(t, "running", tags["state"])
}

func TestPublish_StatusFileAndInflux(t *testing.T) {
	w := &fakeWriter{}
	path := filepath.Join(t.TempDir(), "status.json")
	svc := NewService(Dependencies{
		Session:    runningSession(),
		Influx:     w,
		Clock:      clock.NewMock(),
		StatusFile: path,
	})

	require.NoError(t, svc.Publish(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Yard", doc["scene"])
	caps := doc["capturers"].([]any)
	assert.Equal(t, "running", caps[0].(map[string]any)["state"])

	assert.Equal(t, 2, w.count())
	assert.Equal(t, []string{influx.BucketPerformance, influx.BucketPerformance}, w.buckets)
}

func TestPublish_IdleSkipsInflux(t *testing.T) {
	w := &fakeWriter{}
	svc := NewService(Dependencies{Session: session.NewContext(), Influx: w, Clock: clock.NewMock()})

	require.NoError(t, svc.Publish(context.Background()))
	assert.Zero(t, w.count())
}

func TestPublish_InfluxError(t *testing.T) {
	w := &fakeWriter{err: errors.New("down")}
	svc := NewService(Dependencies{Session: runningSession(), Influx: w, Clock: clock.NewMock()})

	assert.Error(t, svc.Publish(context.Background()))
}

func TestStartStop_TicksOnClock(t *testing.T) {
	w := &fakeWriter{}
	mock := clock.NewMock()
	svc := NewService(Dependencies{
		Session:  runningSession(),
		Influx:   w,
		Clock:    mock,
		Interval: time.Second,
	})

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	// Let the goroutine register its ticker before advancing.
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return w.count() >= 2
	}, time.Second, 10*time.Millisecond)

	svc.Stop()
	assert.False(t, svc.IsRunning())
	svc.Stop()
}
