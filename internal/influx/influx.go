// Package influx writes capture performance points to InfluxDB, falling
// back to a gzip line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	protocol "github.com/influxdata/line-protocol"
	"github.com/rs/zerolog"

	"github.com/synthcap/scenecap/internal/util"
)

// Buckets used by the capture runtime.
const (
	BucketPerformance = "capture_performance"
	BucketCustom      = "custom_metrics"
)

// DefaultBucketNames are the buckets created on connect.
var DefaultBucketNames = []string{
	BucketPerformance,
	BucketCustom,
}

// Config describes the InfluxDB server and the backup file.
type Config struct {
	URL           string
	Token         string
	Org           string
	RetentionDays int
	BatchSize     uint
	FlushInterval time.Duration
	// BackupPath receives gzip line protocol when the server is unreachable.
	BackupPath string
}

// Manager handles InfluxDB connections and writes. WritePoint is safe for
// concurrent use by the monitor and the command bridge.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger

	cfg        Config
	mu         sync.Mutex
	backupFile *os.File
	backupEnc  *protocol.Encoder
}

// NewManager creates a manager. Nothing is dialled until Connect.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: DefaultBucketNames,
		Logger:      log.With().Str("component", "influx").Logger(),
		cfg:         cfg,
	}
}

// Connect pings the server and prepares the org, buckets and writers. When
// the ping fails the backup file is opened instead and Connect succeeds.
func (m *Manager) Connect(ctx context.Context) error {
	if m.cfg.URL == "" {
		return fmt.Errorf("influx URL not configured")
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(m.cfg.BatchSize).
			SetFlushInterval(uint(m.cfg.FlushInterval.Milliseconds())),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		if err := m.openBackup(); err != nil {
			return err
		}
		m.Logger.Warn().Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.Logger.Info().Str("url", m.cfg.URL).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.BackupWriter != nil {
		return nil
	}
	if m.cfg.BackupPath == "" {
		return fmt.Errorf("influx unreachable and no backup path configured")
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()

	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", m.cfg.Org).Msg("Error creating organization")
			return err
		}
	}

	rule := domain.RetentionRuleTypeExpire
	retention := domain.RetentionRule{
		Type:         &rule,
		EverySeconds: int64(m.cfg.RetentionDays) * 24 * 60 * 60,
	}
	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Int("retentionDays", m.cfg.RetentionDays).
			Msg("Bucket not found, creating")
		if _, err := m.Client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, retention); err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

// CreateWriters creates a non-blocking write API per bucket and logs its
// asynchronous errors.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		w := m.Client.WriteAPI(m.cfg.Org, bucket)
		m.Writers[bucket] = w

		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, w.Errors())
	}
	m.Logger.Debug().Strs("buckets", m.BucketNames).Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or to the backup file.
func (m *Manager) WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	if m.backupEnc == nil {
		m.backupEnc = protocol.NewEncoder(m.BackupWriter)
		m.backupEnc.FailOnFieldErr(true)
	}
	if _, err := m.backupEnc.Encode(point); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes the client or backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		if err := m.BackupWriter.Close(); err != nil {
			return err
		}
	}
	if m.backupFile != nil {
		return m.backupFile.Close()
	}
	return nil
}

// ParseMetric parses a host-sent metric into a bucket name and point.
//
// Layout:
//
//	0 = bucket name
//	1 = measurement name
//	"tag::<name>::<value>" adds a tag
//	"field::<type>::<name>::<value>" adds a string, int or float field
//
// Other arguments are ignored.
func ParseMetric(data []string) (
	bucket string,
	point *influxdb2_write.Point,
	err error,
) {
	data = util.CleanArgs(data)
	if len(data) < 2 {
		return "", nil, fmt.Errorf("metric needs bucket and measurement, got %d args", len(data))
	}

	bucket = data[0]
	point = influxdb2_write.NewPointWithMeasurement(data[1])

	for _, arg := range data[2:] {
		parts := strings.Split(arg, "::")
		switch {
		case parts[0] == "tag" && len(parts) >= 3:
			point.AddTag(parts[1], parts[2])
		case parts[0] == "field" && len(parts) >= 4:
			if err := addField(point, parts[1], parts[2], parts[3]); err != nil {
				return "", nil, err
			}
		}
	}
	return bucket, point, nil
}

func addField(point *influxdb2_write.Point, kind, name, value string) error {
	switch kind {
	case "string":
		point.AddField(name, value)
	case "int":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("error converting field value '%s' to int: %w", value, err)
		}
		point.AddField(name, v)
	case "float":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("error converting field value '%s' to float: %w", value, err)
		}
		point.AddField(name, v)
	}
	return nil
}
