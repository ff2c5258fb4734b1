// Command scenecap drives synthetic data capture of a scene file
// headless: it loads the configuration and the scene, wires the
// configured sinks and runs the capture tick loop until every marker is
// captured or the process is interrupted. Bridge commands are read from
// standard input, one per line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/synthcap/scenecap/internal/bridge"
	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/internal/config"
	"github.com/synthcap/scenecap/internal/coordinator"
	"github.com/synthcap/scenecap/internal/database"
	"github.com/synthcap/scenecap/internal/dispatcher"
	"github.com/synthcap/scenecap/internal/influx"
	"github.com/synthcap/scenecap/internal/logging"
	"github.com/synthcap/scenecap/internal/mask"
	"github.com/synthcap/scenecap/internal/monitor"
	intOtel "github.com/synthcap/scenecap/internal/otel"
	"github.com/synthcap/scenecap/internal/render"
	"github.com/synthcap/scenecap/internal/runtime"
	"github.com/synthcap/scenecap/internal/segmentation"
	"github.com/synthcap/scenecap/internal/session"
	"github.com/synthcap/scenecap/pkg/core"
)

const ExtensionName = "scenecap"

// Set with -ldflags at build time.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

var (
	SessionStartTime = time.Now()
	ConfigDir        = "."
	LogFilePath      string
	LogFile          *os.File

	SlogManager   *logging.SlogManager
	Logger        *slog.Logger
	ZeroLogger    = zerolog.Nop()
	OTelProvider  *intOtel.Provider
	GraylogWriter io.WriteCloser

	DBManager       *database.Manager
	InfluxManager   *influx.Manager
	monitorService  *monitor.Service
	eventDispatcher *dispatcher.Dispatcher
	sessionContext  = session.NewContext()

	cmdOverrides config.Overrides
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := setup(args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", ExtensionName, err)
		return 1
	}
	defer shutdown()

	scenePath := config.GetString("sceneFile")
	if !filepath.IsAbs(scenePath) {
		scenePath = filepath.Join(ConfigDir, scenePath)
	}
	sf, err := LoadScene(scenePath)
	if err != nil {
		Logger.Error("Failed to load scene", "path", scenePath, "error", err)
		return 1
	}
	Logger.Info("Scene loaded", "scene", sf.Name, "objects", len(sf.Objects),
		"markers", len(sf.Markers), "capturers", len(sf.Capturers))

	rt, sinks, err := buildRuntime(sf)
	defer closeSinks(sinks)
	if err != nil {
		Logger.Error("Failed to build capture runtime", "error", err)
		return 1
	}
	defer rt.Close()

	if err := rt.Begin(coordinatorConfig(), coordinator.DefaultRegistry(), sf.Markers); err != nil {
		Logger.Error("Failed to start scene coordinator", "error", err)
		return 1
	}

	if err := startServices(ctx, rt, sinks); err != nil {
		Logger.Error("Failed to start services", "error", err)
		return 1
	}

	rtCfg := config.GetRuntimeConfig()
	err = rt.Run(ctx, rtCfg.TickInterval)
	switch {
	case err == nil:
		Logger.Info("Scene fully captured")
	case errors.Is(err, context.Canceled):
		Logger.Info("Interrupted, shutting down")
	default:
		Logger.Error("Runtime stopped", "error", err)
		return 1
	}
	return 0
}

// setup loads the configuration and brings up logging, in that order,
// since the log destinations are configured.
func setup(args []string) error {
	var rest []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			rest = append(rest, a)
			continue
		}
		ConfigDir = a
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{Level: "INFO"})
	Logger = SlogManager.Logger()

	if err := config.Load(ConfigDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", ConfigDir)
	}

	var err error
	cmdOverrides, err = config.ParseOverrides(rest)
	if err != nil {
		return err
	}
	cmdOverrides.Apply(ConfigDir)

	LogFilePath = logging.LogFilePath(config.GetString("logsDir"), ExtensionName, SessionStartTime)
	LogFile, err = logging.OpenLogFile(LogFilePath)
	if err != nil {
		return err
	}
	Logger.Info("Begin logging in logs directory", "path", LogFilePath)

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: Version,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      LogFile,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
			MetricInterval: otelCfg.MetricInterval,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	if config.GetBool("graylog.enabled") {
		GraylogWriter, err = logging.NewGraylogWriter(config.GetString("graylog.address"))
		if err != nil {
			Logger.Warn("Failed to connect to Graylog", "error", err)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	opts := logging.Options{
		File:     LogFile,
		Level:    config.GetString("logLevel"),
		Provider: otelLogProvider,
		Context:  sessionContext.LogAttrs,
	}
	if GraylogWriter != nil {
		opts.Graylog = GraylogWriter
	}
	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	level, err := zerolog.ParseLevel(strings.ToLower(config.GetString("logLevel")))
	if err != nil {
		level = zerolog.InfoLevel
	}
	ZeroLogger = zerolog.New(LogFile).Level(level).With().
		Timestamp().
		Str("service", logging.ServiceName).
		Logger()

	Logger.Info("Starting up", "version", Version, "build", BuildDate)
	return nil
}

// captureSettings returns the settings every capturer starts from: the
// settings file when one was given, otherwise the configured values.
func captureSettings() (capturer.Settings, error) {
	var s capturer.Settings
	if path := config.GetSettingsPath(); path != "" {
		var err error
		s, err = capturer.LoadSettings(path)
		if err != nil {
			return s, err
		}
		Logger.Info("Capture settings loaded", "path", path)
	} else {
		cc := config.GetCaptureConfig()
		s = capturer.DefaultSettings()
		s.CaptureInterval = cc.Interval
		s.MaxFrames = cc.MaxFrames
		s.AutoStart = cc.AutoStart
		s.PauseGameWhenFlushing = cc.PauseGameWhenFlushing
		s.OutputPath = cc.OutputPath
	}
	return s, nil
}

// capturerSettings resolves the settings of one capturer. A settings file
// replaces everything, including the capturer's own settings from the
// scene file; -NumberOfFrame= is applied on top of whichever source won.
func capturerSettings(base capturer.Settings, spec CapturerSpec) capturer.Settings {
	settings := base
	if spec.Settings != nil && config.GetSettingsPath() == "" {
		settings = *spec.Settings
	}
	applyFrameOverride(&settings)
	return settings
}

// applyFrameOverride makes -NumberOfFrame= win over any settings source.
func applyFrameOverride(s *capturer.Settings) {
	if cmdOverrides.HasFrames {
		s.MaxFrames = cmdOverrides.Frames
		s.AutoStart = true
	}
}

func coordinatorConfig() coordinator.Config {
	maskCfg := config.GetMaskConfig()
	coordCfg := config.GetCoordinatorConfig()

	cfg := coordinator.DefaultConfig()
	cfg.CaptureAtAllMarkers = coordCfg.CaptureAtAllMarkers
	cfg.AutoExit = coordCfg.AutoExit
	cfg.Strategy = mask.ParseStrategy(maskCfg.StencilStrategy)
	cfg.Class = segmentation.ClassConfig{
		Naming:      mask.ParseNamePolicy(maskCfg.ClassNaming),
		Policy:      mask.ParsePolicy(maskCfg.ClassPolicy),
		Debug:       maskCfg.Debug,
		TargetGroup: core.NameContains(maskCfg.TargetGroup),
		Pinned:      core.NameContains(maskCfg.PinnedActor),
	}
	cfg.InstancePolicy = mask.ParsePolicy(maskCfg.InstancePolicy)
	cfg.Debug = maskCfg.Debug
	cfg.AllowList = config.GetAllowList()
	return cfg
}

// buildRuntime creates one capturer per scene file entry, each with its
// own sinks. The sinks built so far are returned even on error so they
// can be closed.
func buildRuntime(sf *SceneFile) (*runtime.Runtime, []capturerSinks, error) {
	world := sf.World()
	cc := config.GetCaptureConfig()
	rt, err := runtime.New(runtime.Dependencies{
		Scene:      world,
		Session:    sessionContext,
		Logger:     Logger,
		RetryDelay: cc.StartRetryDelay,
		WarnAfter:  cc.StartWarnAfter,
	})
	if err != nil {
		return nil, nil, err
	}

	base, err := captureSettings()
	if err != nil {
		return nil, nil, err
	}

	renderer := render.New(world)
	var all []capturerSinks
	for _, spec := range sf.Capturers {
		settings := capturerSettings(base, spec)

		subFolder := ""
		if len(sf.Capturers) > 1 {
			subFolder = spec.Name
		}
		sinks, err := createSinks(config.GetSinks(), subFolder)
		if err != nil {
			return nil, all, fmt.Errorf("capturer %s: %w", spec.Name, err)
		}
		all = append(all, sinks)
		if err := sinks.handler.Init(); err != nil {
			return nil, all, fmt.Errorf("capturer %s: initializing sinks: %w", spec.Name, err)
		}

		opts := capturer.Options{
			Name:     spec.Name,
			Active:   spec.IsActive(),
			Settings: settings,
			Sink:     sinks.handler,
		}
		if sinks.visualizer != nil {
			opts.Visualizer = sinks.visualizer
		}
		c, err := rt.NewCapturer(opts)
		if err != nil {
			return nil, all, err
		}
		for _, es := range spec.Extractors {
			ex, err := es.Extractor(renderer)
			if err != nil {
				return nil, all, fmt.Errorf("capturer %s: %w", spec.Name, err)
			}
			c.AddExtractor(ex)
		}
		viewpoints := spec.Viewpoints
		if len(viewpoints) == 0 {
			viewpoints = []capturer.ViewpointSettings{{Name: "main", Enabled: true}}
		}
		for _, vp := range viewpoints {
			c.AddViewpoint(vp)
		}
		c.Completed.Subscribe(flushTelemetry)
	}
	return rt, all, nil
}

// startServices brings up the influx writer, the status monitor and the
// command bridge.
func startServices(ctx context.Context, rt *runtime.Runtime, sinks []capturerSinks) error {
	var metrics monitor.PointWriter
	if ic := config.GetInfluxConfig(); ic.Enabled {
		InfluxManager = influx.NewManager(influx.Config{
			URL:           ic.URL(),
			Token:         ic.Token,
			Org:           ic.Org,
			RetentionDays: ic.RetentionDays,
			FlushInterval: ic.FlushInterval,
			BackupPath: filepath.Join(config.GetString("logsDir"),
				fmt.Sprintf("%s_influx_%s.lp.gz", ExtensionName, SessionStartTime.Format("20060102_150405"))),
		}, ZeroLogger)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := InfluxManager.Connect(connectCtx)
		cancel()
		if err != nil {
			Logger.Warn("InfluxDB unavailable", "error", err)
		} else {
			metrics = InfluxManager
		}
	}

	monCfg := config.GetMonitorConfig()
	if monCfg.Enabled {
		deps := monitor.Dependencies{
			Session:    sessionContext,
			Influx:     metrics,
			Logger:     Logger,
			Interval:   monCfg.Interval,
			StatusFile: monCfg.StatusFile,
		}
		for _, s := range sinks {
			if s.recorder != nil {
				deps.LastDBWrite = s.recorder.GetLastDBWriteDuration
				break
			}
		}
		monitorService = monitor.NewService(deps)
		if err := monitorService.Start(); err != nil {
			return fmt.Errorf("starting monitor: %w", err)
		}
	}

	var err error
	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(ZeroLogger))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	deps := bridge.Dependencies{
		Controller: rt,
		Session:    sessionContext,
		LogManager: SlogManager,
		Metrics:    metrics,
		Version:    Version,
		BuildDate:  BuildDate,
		LogFile:    LogFilePath,
		Logger:     Logger,
	}
	if len(sinks) > 0 {
		deps.OutputDir = sinks[0].outputDir
	}
	if err := bridge.Register(eventDispatcher, deps); err != nil {
		return err
	}
	Logger.Info("Bridge commands registered", "commands", eventDispatcher.Commands())

	if config.GetRuntimeConfig().Stdin {
		go func() {
			if err := bridge.Serve(ctx, eventDispatcher, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				Logger.Warn("Command bridge stopped", "error", err)
			}
		}()
	}
	return nil
}

// flushTelemetry pushes pending OTel logs and metrics after each session.
// It runs on the tick goroutine, so the export is bounded.
func flushTelemetry(c *capturer.Capturer) {
	if OTelProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := OTelProvider.Flush(ctx); err != nil {
		Logger.Warn("OTel flush failed", "capturer", c.Name(), "error", err)
	}
}

func closeSinks(sinks []capturerSinks) {
	for _, s := range sinks {
		if err := s.handler.Close(); err != nil {
			Logger.Error("Failed to close sinks", "error", err)
		}
		if s.visualizer != nil {
			s.visualizer.Close()
		}
	}
}

func shutdown() {
	if eventDispatcher != nil {
		eventDispatcher.Close()
	}
	if monitorService != nil {
		monitorService.Stop()
	}
	if InfluxManager != nil {
		if err := InfluxManager.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB", "error", err)
		}
	}
	if DBManager != nil {
		if err := DBManager.Close(); err != nil {
			Logger.Warn("Failed to close database", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel provider", "error", err)
		}
	}
	if GraylogWriter != nil {
		GraylogWriter.Close()
	}
	if LogFile != nil {
		LogFile.Close()
	}
}
