// Package recorder persists capture sessions and per-frame records with
// GORM. Frame rows are queued and written in batches by a background writer.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/synthcap/scenecap/internal/model"
	"github.com/synthcap/scenecap/internal/queue"
	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
)

var _ sink.Handler = (*Recorder)(nil)

// Config configures the Recorder.
type Config struct {
	// FlushInterval is the pause between background batch writes.
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	// MaxQueued bounds unwritten frame rows. 0 is unbounded.
	MaxQueued int `json:"maxQueued" mapstructure:"maxQueued"`
	// BatchSize caps rows per transaction. 0 writes the whole queue at once.
	BatchSize int `json:"batchSize" mapstructure:"batchSize"`
}

// Dependencies holds the dependencies of the Recorder.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Recorder is a sink.Handler writing to a relational database.
type Recorder struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger

	frames    *queue.Queue[model.FrameRecord]
	sessionID atomic.Uint64
	session   *model.CaptureSession
	counted   int

	writeMu       sync.Mutex
	lastWrite     atomic.Int64
	stopChan      chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	writerRunning bool
}

// New creates a recorder. The database must already be migrated.
func New(cfg Config, deps Dependencies) (*Recorder, error) {
	if deps.DB == nil {
		return nil, errors.New("recorder requires a database")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Recorder{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.With("component", "recorder"),
		frames: queue.New[model.FrameRecord](),
	}, nil
}

// Init starts the background writer.
func (r *Recorder) Init() error {
	if r.writerRunning {
		return nil
	}
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	r.writerRunning = true
	go r.startDBWriter()
	return nil
}

// Close stops the writer after a final flush.
func (r *Recorder) Close() error {
	if !r.writerRunning {
		return nil
	}
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.done
	return r.Flush()
}

func (r *Recorder) startDBWriter() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.log.Error("frame write failed", "error", err)
			}
		}
	}
}

// Flush writes all queued frame rows in transactions of at most BatchSize
// rows. A failed batch is requeued at the front and stops the flush.
func (r *Recorder) Flush() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	start := time.Now()
	defer func() { r.lastWrite.Store(int64(time.Since(start))) }()

	for !r.frames.Empty() {
		if err := writeBatch(r.deps.DB, r.frames, r.cfg.BatchSize); err != nil {
			return err
		}
	}
	return nil
}

// GetLastDBWriteDuration returns the duration of the last write cycle.
func (r *Recorder) GetLastDBWriteDuration() time.Duration {
	return time.Duration(r.lastWrite.Load())
}

func writeBatch[T any](db *gorm.DB, q *queue.Queue[T], size int) error {
	items := q.Take(size)
	if len(items) == 0 {
		return nil
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		q.Requeue(items...)
		return fmt.Errorf("creating %d rows: %w", len(items), err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Requeue(items...)
		return fmt.Errorf("committing %d rows: %w", len(items), err)
	}
	return nil
}

// CanAcceptMore reports whether the frame queue has room.
func (r *Recorder) CanAcceptMore() bool {
	return r.cfg.MaxQueued <= 0 || r.frames.Len() < r.cfg.MaxQueued
}

// IsBusy reports whether frame rows are waiting to be written.
func (r *Recorder) IsBusy() bool {
	return !r.frames.Empty()
}

// OnStartCapturing stores the session and the segmented objects of the scene.
func (r *Recorder) OnStartCapturing(info core.SessionInfo) error {
	viewpoints, err := json.Marshal(info.Viewpoints)
	if err != nil {
		return fmt.Errorf("encoding viewpoints: %w", err)
	}

	s := &model.CaptureSession{
		SessionID:  info.ID,
		Capturer:   info.Capturer,
		Marker:     info.Marker,
		StartTime:  time.Now(),
		Status:     model.StatusRunning,
		OutputDir:  info.OutputPath,
		Viewpoints: datatypes.JSON(viewpoints),
	}
	if info.Scene != nil {
		s.Scene = info.Scene.Name()
	}
	if len(info.Viewpoints) > 0 {
		loc, err := info.Viewpoints[0].Location.Point()
		if err != nil {
			return fmt.Errorf("capture session marker: %w", err)
		}
		s.MarkerLocation = loc
	}
	if err := r.deps.DB.Create(s).Error; err != nil {
		return fmt.Errorf("creating capture session: %w", err)
	}
	r.session = s
	r.counted = 0
	r.sessionID.Store(uint64(s.ID))

	objects, err := segmentedObjects(s.ID, info)
	if err != nil {
		return err
	}
	if len(objects) > 0 {
		if err := r.deps.DB.CreateInBatches(&objects, 500).Error; err != nil {
			return fmt.Errorf("creating segmented objects: %w", err)
		}
	}
	r.log.Debug("session recorded", "session", info.ID, "objects", len(objects))
	return nil
}

func segmentedObjects(sessionID uint, info core.SessionInfo) ([]model.SegmentedObject, error) {
	if info.Scene == nil {
		return nil, nil
	}
	var out []model.SegmentedObject
	for _, obj := range info.Scene.Objects() {
		if obj == nil || !obj.Tag.Valid() {
			continue
		}
		pos, err := obj.Location.Point()
		if err != nil {
			return nil, fmt.Errorf("segmented object %s: %w", obj.Name, err)
		}
		extent, _ := json.Marshal(obj.Extent)
		so := model.SegmentedObject{
			CaptureSessionID: sessionID,
			Name:             obj.Name,
			Class:            obj.Class,
			Tag:              obj.Tag.Tag,
			Position:         pos,
			Extent:           datatypes.JSON(extent),
		}
		if info.SegmentationIDs != nil {
			so.ClassID, so.InstanceID = info.SegmentationIDs(obj)
		}
		out = append(out, so)
	}
	return out, nil
}

// OnStopCapturing flushes frames and marks the session stopped.
func (r *Recorder) OnStopCapturing() error {
	return r.finish(model.StatusStopped)
}

// OnCapturingCompleted flushes frames and marks the session completed.
func (r *Recorder) OnCapturingCompleted() error {
	return r.finish(model.StatusCompleted)
}

func (r *Recorder) finish(status string) error {
	if r.session == nil {
		return nil
	}
	flushErr := r.Flush()

	now := time.Now()
	err := r.deps.DB.Model(r.session).Updates(map[string]any{
		"status":      status,
		"end_time":    &now,
		"frame_count": r.counted,
	}).Error
	r.session = nil
	if err != nil {
		err = fmt.Errorf("updating capture session: %w", err)
	}
	return errors.Join(flushErr, err)
}

// HandlePixelData queues a frame row describing the image.
func (r *Recorder) HandlePixelData(px *core.PixelData, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	rec := r.record(ex, vp, ref)
	if px != nil && px.Image != nil {
		b := px.Image.Bounds()
		rec.Width, rec.Height = b.Dx(), b.Dy()
	}
	r.push(rec, ref)
	return nil
}

// HandleAnnotationData queues a frame row carrying the annotation.
func (r *Recorder) HandleAnnotationData(a core.Annotation, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding annotation: %w", err)
	}
	rec := r.record(ex, vp, ref)
	rec.Annotation = datatypes.JSON(data)
	r.push(rec, ref)
	return nil
}

func (r *Recorder) record(ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) model.FrameRecord {
	return model.FrameRecord{
		CaptureSessionID: uint(r.sessionID.Load()),
		Time:             time.Now(),
		FrameIndex:       ref.Index,
		GroupIndex:       ref.Group,
		SubImageIndex:    ref.SubImage,
		Viewpoint:        vp.Name,
		Extractor:        ex.Name,
		Channel:          ex.Channel.String(),
	}
}

func (r *Recorder) push(rec model.FrameRecord, ref core.FrameRef) {
	r.frames.Push(rec)
	// counted frames are indexed from 0
	r.counted = max(r.counted, ref.Index+1)
}
