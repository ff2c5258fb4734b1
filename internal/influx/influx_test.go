package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	bucket, point, err := ParseMetric([]string{
		`"custom_metrics"`,
		`"scene_load"`,
		`"tag::scene::Yard"`,
		`"field::int::actors::42"`,
		`"field::float::seconds::1.5"`,
		`"field::string::note::warm"`,
		`"ignored"`,
	})
	require.NoError(t, err)

	assert.Equal(t, BucketCustom, bucket)
	assert.Equal(t, "scene_load", point.Name())

	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	assert.Contains(t, line, "scene=Yard")
	assert.Contains(t, line, "actors=42i")
	assert.Contains(t, line, "seconds=1.5")
	assert.Contains(t, line, `note="warm"`)
}

func TestParseMetric_BadField(t *testing.T) {
	_, _, err := ParseMetric([]string{"b", "m", "field::int::n::x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "to int")
}

func TestParseMetric_TooShort(t *testing.T) {
	_, _, err := ParseMetric([]string{"b"})
	assert.Error(t, err)
}

func TestWritePoint_Backup(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(Config{}, zerolog.Nop())
	m.BackupWriter = gzip.NewWriter(&buf)

	p := influxdb2_write.NewPoint("capture", map[string]string{"capturer": "front"},
		map[string]any{"frames": 3}, time.Unix(0, 0))
	require.NoError(t, m.WritePoint(context.Background(), BucketPerformance, p))
	require.NoError(t, m.Close())

	r, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), "capture,capturer=front frames=3i")
}

func TestWritePoint_NoWriter(t *testing.T) {
	m := NewManager(Config{}, zerolog.Nop())
	err := m.WritePoint(context.Background(), BucketPerformance, influxdb2_write.NewPointWithMeasurement("x"))
	assert.Error(t, err)
}

func TestWritePoint_UnknownBucket(t *testing.T) {
	m := NewManager(Config{}, zerolog.Nop())
	m.IsValid = true
	err := m.WritePoint(context.Background(), "nope", influxdb2_write.NewPointWithMeasurement("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestConnect_RequiresURL(t *testing.T) {
	m := NewManager(Config{BackupPath: filepath.Join(t.TempDir(), "backup.gz")}, zerolog.Nop())
	assert.Error(t, m.Connect(context.Background()))
}

func TestConnect_UnreachableFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.lp.gz")
	m := NewManager(Config{URL: "http://127.0.0.1:1", Org: "scenecap", BackupPath: path}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)

	p := influxdb2_write.NewPoint("capture", nil, map[string]any{"fps": 30.0}, time.Unix(0, 0))
	require.NoError(t, m.WritePoint(ctx, BucketPerformance, p))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := gzip.NewReader(f)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "capture fps=30 0\n", string(out))
}

func TestConnect_UnreachableWithoutBackup(t *testing.T) {
	m := NewManager(Config{URL: "http://127.0.0.1:1"}, zerolog.Nop())
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup path")
}

func TestWritePoint_ConcurrentBackup(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(Config{}, zerolog.Nop())
	m.BackupWriter = gzip.NewWriter(&buf)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := influxdb2_write.NewPoint("capture", nil, map[string]any{"n": i}, time.Unix(0, 0))
			assert.NoError(t, m.WritePoint(context.Background(), BucketPerformance, p))
		}()
	}
	wg.Wait()
	require.NoError(t, m.Close())

	r, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	require.Len(t, lines, 20, "one line per point, no blank lines")
	for _, line := range lines {
		assert.Regexp(t, `^capture n=\d+i 0$`, line)
	}
}

func TestWritePoint_BackupTaggedPoint(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(Config{}, zerolog.Nop())
	m.BackupWriter = gzip.NewWriter(&buf)

	_, p, err := ParseMetric([]string{"custom_metrics", "frames", "tag::capturer::front", "field::int::count::3"})
	require.NoError(t, err)
	p.SetTime(time.Unix(1, 0))
	require.NoError(t, m.WritePoint(context.Background(), BucketCustom, p))
	require.NoError(t, m.Close())

	r, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "frames,capturer=front count=3i 1000000000\n", string(out))
}
