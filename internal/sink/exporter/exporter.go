// Package exporter writes captured frames and session settings to disk.
// Images are encoded on background writers so the tick never waits on I/O;
// the pending count drives the capturer's backpressure.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/synthcap/scenecap/internal/queue"
	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
)

const (
	ObjectSettingsFile = "_object_settings.json"
	CameraSettingsFile = "_camera_settings.json"

	timestampLayout = "2006.01.02-15.04.05"
)

var _ sink.Handler = (*Exporter)(nil)

type imageJob struct {
	path string
	img  image.Image
}

// Exporter is a sink.Handler persisting frames under a per-session directory.
type Exporter struct {
	cfg Config
	log *slog.Logger

	jobs     *queue.Queue[imageJob]
	pending  atomic.Int64
	wake     chan struct{}
	stopChan chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once

	mu       sync.RWMutex
	dir      string
	override string
	session  core.SessionInfo

	written metric.Int64Counter
	failed  metric.Int64Counter
}

// New creates an exporter. Init must be called before frames are handled.
func New(cfg Config, log *slog.Logger) (*Exporter, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Writers <= 0 {
		cfg.Writers = 1
	}
	if cfg.Format == "" {
		cfg.Format = PNG
	}
	e := &Exporter{
		cfg:      cfg,
		log:      log.With("component", "exporter"),
		jobs:     queue.New[imageJob](),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	var err error
	e.written, err = meter().Int64Counter("exporter.images.written",
		metric.WithDescription("Images encoded to disk"))
	if err != nil {
		return nil, fmt.Errorf("creating written counter: %w", err)
	}
	e.failed, err = meter().Int64Counter("exporter.images.failed",
		metric.WithDescription("Images that could not be written"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return e, nil
}

// Init starts the image writers.
func (e *Exporter) Init() error {
	if e.started {
		return nil
	}
	e.started = true
	go e.run()
	return nil
}

// Close waits for queued images and stops the writers.
func (e *Exporter) Close() error {
	if !e.started {
		return nil
	}
	e.stopOnce.Do(func() { close(e.stopChan) })
	<-e.done
	return nil
}

func (e *Exporter) run() {
	defer close(e.done)

	var g errgroup.Group
	g.SetLimit(e.cfg.Writers)

	drain := func() {
		for _, job := range e.jobs.GetAndEmpty() {
			g.Go(func() error {
				e.write(job)
				return nil
			})
		}
	}

	for {
		select {
		case <-e.wake:
			drain()
		case <-e.stopChan:
			drain()
			_ = g.Wait()
			return
		}
	}
}

func (e *Exporter) write(job imageJob) {
	defer e.pending.Add(-1)

	img := job.img
	opts := []imaging.EncodeOption{}
	switch e.cfg.Format {
	case GrayJPEG:
		img = imaging.Grayscale(img)
		fallthrough
	case JPEG:
		if e.cfg.JPEGQuality > 0 {
			opts = append(opts, imaging.JPEGQuality(e.cfg.JPEGQuality))
		}
	}

	if err := imaging.Save(img, job.path, opts...); err != nil {
		e.failed.Add(context.Background(), 1)
		e.log.Error("failed to save image", "path", job.path, "error", err)
		return
	}
	e.written.Add(context.Background(), 1)
}

// CanAcceptMore reports whether fewer than half of MaxPendingImages are queued.
func (e *Exporter) CanAcceptMore() bool {
	limit := int64(e.cfg.MaxPendingImages)
	return limit <= 0 || e.pending.Load() <= limit/2
}

// IsBusy reports whether images are still being written.
func (e *Exporter) IsBusy() bool {
	return e.pending.Load() > 0
}

// Pending returns the number of queued or in-flight images.
func (e *Exporter) Pending() int {
	return int(e.pending.Load())
}

// OnStartCapturing prepares the output directory and writes the settings files.
func (e *Exporter) OnStartCapturing(session core.SessionInfo) error {
	dir, err := e.prepareDir(session)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.dir = dir
	e.session = session
	e.mu.Unlock()

	e.log.Info("exporting capture", "dir", dir, "session", session.ID)
	if !e.cfg.ExportSettings {
		return nil
	}
	return errors.Join(
		writeJSON(filepath.Join(dir, ObjectSettingsFile), objectSettingsFor(session)),
		writeJSON(filepath.Join(dir, CameraSettingsFile), cameraSettingsFor(session)),
	)
}

// OnStopCapturing keeps queued images; they are flushed by the writers.
func (e *Exporter) OnStopCapturing() error {
	e.log.Debug("capture stopped", "pending", e.pending.Load())
	return nil
}

func (e *Exporter) OnCapturingCompleted() error {
	e.log.Info("capture exported", "dir", e.OutputDir())
	return nil
}

// HandlePixelData queues an image write.
func (e *Exporter) HandlePixelData(px *core.PixelData, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	if px == nil || px.Image == nil {
		return errors.New("no pixel data")
	}
	if !e.started {
		return errors.New("exporter not initialized")
	}

	e.pending.Add(1)
	e.jobs.Push(imageJob{path: e.FilePath(ex, vp, ref, e.cfg.Format.Extension()), img: px.Image})
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// HandleAnnotationData writes the annotation as JSON next to the images.
func (e *Exporter) HandleAnnotationData(a core.Annotation, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	return writeJSON(e.FilePath(ex, vp, ref, ".json"), a)
}

// FilePath returns the export path of one frame:
// dir/%06d[.viewpoint][.extractor]ext.
func (e *Exporter) FilePath(ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef, ext string) string {
	name := fmt.Sprintf("%06d", ref.Index)
	if vp.FilePostfix != "" {
		name += "." + vp.FilePostfix
	}
	if ex.FilePostfix != "" {
		name += "." + ex.FilePostfix
	}
	return filepath.Join(e.OutputDir(), name+ext)
}

// OutputDir returns the directory frames are written to.
func (e *Exporter) OutputDir() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.override != "" {
		return e.override
	}
	return e.dir
}

// SetDirOverride redirects frames to dir until cleared with "".
func (e *Exporter) SetDirOverride(dir string) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating override dir: %w", err)
		}
	}
	e.mu.Lock()
	e.override = dir
	e.mu.Unlock()
	return nil
}

func (e *Exporter) folderName(session core.SessionInfo) string {
	folder := e.cfg.FolderName
	if folder == "" && session.Scene != nil {
		folder = session.Scene.Name()
	}
	if folder == "" {
		folder = session.Capturer
	}
	if e.cfg.SubFolder != "" {
		folder = filepath.Join(folder, e.cfg.SubFolder)
	}
	if e.cfg.UseMarkerName && session.Marker != "" {
		folder = filepath.Join(folder, session.Marker)
	}
	return folder
}

func (e *Exporter) prepareDir(session core.SessionInfo) (string, error) {
	root := e.cfg.RootDir
	if session.OutputPath != "" {
		root = session.OutputPath
	}
	folder := e.folderName(session)
	dir := folder
	if !filepath.IsAbs(folder) {
		dir = filepath.Join(root, folder)
	}

	if _, err := os.Stat(dir); err == nil {
		switch e.cfg.Conflict {
		case Clean:
			if err := os.RemoveAll(dir); err != nil {
				return "", fmt.Errorf("cleaning output dir: %w", err)
			}
		case TimestampPostfix:
			dir = dir + "_" + time.Now().Format(timestampLayout)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
