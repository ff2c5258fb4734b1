package main

import (
	"fmt"
	"strings"

	"github.com/synthcap/scenecap/internal/config"
	"github.com/synthcap/scenecap/internal/database"
	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/internal/sink/exporter"
	"github.com/synthcap/scenecap/internal/sink/notify"
	"github.com/synthcap/scenecap/internal/sink/recorder"
	"github.com/synthcap/scenecap/internal/sink/stream"
	"github.com/synthcap/scenecap/internal/sink/visualizer"
	"github.com/synthcap/scenecap/internal/util"
)

// capturerSinks are the data handlers built for one capturer.
type capturerSinks struct {
	handler    sink.Handler
	visualizer *visualizer.Visualizer
	exporter   *exporter.Exporter
	recorder   *recorder.Recorder
}

// outputDir reports where the capturer's frames go, if it exports to disk.
func (s capturerSinks) outputDir() string {
	if s.exporter == nil {
		return ""
	}
	return s.exporter.OutputDir()
}

// createSinks builds the sinks named in the config for one capturer.
// The visualizer is kept apart from the data handlers because it never
// applies backpressure. subFolder separates the exports of capturers
// sharing a scene.
func createSinks(names []string, subFolder string) (capturerSinks, error) {
	var (
		out      capturerSinks
		handlers []sink.Handler
	)

	// the exporter comes first so notifications can report its directory
	if util.Contains(lower(names), "exporter") {
		exp, err := createExporter(subFolder)
		if err != nil {
			return out, err
		}
		out.exporter = exp
		handlers = append(handlers, exp)
	}

	for _, name := range lower(names) {
		switch name {
		case "exporter":
			continue

		case "visualizer":
			out.visualizer = visualizer.New()
			Logger.Info("Visualizer sink created", "capturer", subFolder)

		case "recorder":
			db, err := getDB()
			if err != nil {
				return out, fmt.Errorf("recorder sink: %w", err)
			}
			dbCfg := config.GetDBConfig()
			rec, err := recorder.New(recorder.Config{
				FlushInterval: dbCfg.FlushInterval,
				MaxQueued:     dbCfg.MaxQueued,
				BatchSize:     dbCfg.BatchSize,
			}, recorder.Dependencies{DB: db.DB, Logger: Logger})
			if err != nil {
				return out, fmt.Errorf("recorder sink: %w", err)
			}
			out.recorder = rec
			handlers = append(handlers, rec)
			Logger.Info("Recorder sink created", "dialect", db.DB.Dialector.Name())

		case "stream":
			streamCfg := config.GetStreamConfig()
			handlers = append(handlers, stream.New(stream.Config{
				URL:           streamCfg.URL,
				Secret:        streamCfg.Secret,
				ThumbnailSize: streamCfg.ThumbnailSize,
			}, Logger))
			Logger.Info("Stream sink created", "url", streamCfg.URL)

		case "notify":
			amqpCfg := config.GetAMQPConfig()
			deps := notify.Dependencies{Logger: Logger}
			if out.exporter != nil {
				deps.OutputDir = out.exporter.OutputDir
			}
			handlers = append(handlers, notify.New(notify.Config{
				URL:      amqpCfg.URL,
				Exchange: amqpCfg.Exchange,
			}, deps))
			Logger.Info("Notify sink created", "exchange", amqpCfg.Exchange)

		default:
			return out, fmt.Errorf("unknown sink type: %s", name)
		}
	}

	switch len(handlers) {
	case 0:
		if out.visualizer == nil {
			return out, fmt.Errorf("no sinks configured")
		}
		// a visualizer alone still lets the capture run
		out.handler = out.visualizer
		out.visualizer = nil
	case 1:
		out.handler = handlers[0]
	default:
		out.handler = sink.NewMulti(handlers...)
	}
	return out, nil
}

func createExporter(subFolder string) (*exporter.Exporter, error) {
	expCfg := config.GetExporterConfig()
	coordCfg := config.GetCoordinatorConfig()
	cfg := exporter.Config{
		RootDir:          expCfg.RootDir,
		FolderName:       expCfg.FolderName,
		SubFolder:        subFolder,
		UseMarkerName:    coordCfg.UseMarkerNameAsPostfix,
		Format:           exporter.ParseFormat(expCfg.ImageFormat),
		JPEGQuality:      expCfg.JPEGQuality,
		Conflict:         exporter.ParseConflictPolicy(expCfg.Conflict),
		MaxPendingImages: expCfg.MaxPendingImages,
		Writers:          expCfg.Writers,
		ExportSettings:   expCfg.ExportSettings,
	}
	exp, err := exporter.New(cfg, Logger)
	if err != nil {
		return nil, fmt.Errorf("exporter sink: %w", err)
	}
	Logger.Info("Exporter sink created", "root", cfg.RootDir, "format", cfg.Format)
	return exp, nil
}

// getDB connects and migrates the shared recorder database once.
func getDB() (*database.Manager, error) {
	if DBManager != nil && DBManager.IsValid {
		return DBManager, nil
	}
	dbCfg := config.GetDBConfig()
	DBManager = database.NewManager(ZeroLogger)
	DBManager.SqliteFilePath = dbCfg.SQLitePath
	if err := DBManager.Connect(dbCfg.Driver); err != nil {
		return nil, err
	}
	if err := DBManager.Setup(); err != nil {
		return nil, err
	}
	return DBManager, nil
}

func lower(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(strings.TrimSpace(n))
	}
	return out
}
