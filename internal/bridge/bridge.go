// Package bridge registers the commands the host engine sends to the
// capture runtime and serves them from a line-oriented stream.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/internal/dispatcher"
	"github.com/synthcap/scenecap/internal/influx"
	"github.com/synthcap/scenecap/internal/logging"
	"github.com/synthcap/scenecap/internal/monitor"
	"github.com/synthcap/scenecap/internal/session"
	"github.com/synthcap/scenecap/internal/util"
)

// Controller is the set of runtime operations exposed to the host.
type Controller interface {
	StartCapture(names ...string)
	StopCapture(names ...string)
	PauseCapture(names ...string)
	ResumeCapture(names ...string)
	SetPhase(p capturer.Phase)
	SetTarget(name string)
	ResetScene()
}

// Dependencies holds everything the command handlers need.
type Dependencies struct {
	Controller Controller
	Session    *session.Context
	LogManager *logging.SlogManager
	// Metrics receives :METRIC: points. Nil disables the command.
	Metrics   monitor.PointWriter
	Version   string
	BuildDate string
	OutputDir func() string
	LogFile   string
	Logger    *slog.Logger
}

// Register adds the capture commands to d.
func Register(d *dispatcher.Dispatcher, deps Dependencies) error {
	if deps.Controller == nil {
		return errors.New("bridge requires a controller")
	}
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	log := deps.Logger.With("component", "bridge")

	// Simple queries
	d.Register(":VERSION:", func(e dispatcher.Event) (any, error) {
		return []string{deps.Version, deps.BuildDate}, nil
	})

	d.Register(":STATUS:", func(e dispatcher.Event) (any, error) {
		return deps.Session.Get(), nil
	})

	d.Register(":GETDIR:OUTPUT:", func(e dispatcher.Event) (any, error) {
		if deps.OutputDir == nil {
			return "", nil
		}
		return deps.OutputDir(), nil
	})

	d.Register(":GETDIR:LOG:", func(e dispatcher.Event) (any, error) {
		return deps.LogFile, nil
	})

	// Capture control, args are optional capturer names
	d.Register(":CAPTURE:START:", func(e dispatcher.Event) (any, error) {
		names := capturerNames(e.Args)
		log.Info("Start capture requested", "capturers", names)
		deps.Controller.StartCapture(names...)
		return "ok", nil
	}, dispatcher.Logged())

	d.Register(":CAPTURE:STOP:", func(e dispatcher.Event) (any, error) {
		names := capturerNames(e.Args)
		log.Info("Stop capture requested", "capturers", names)
		deps.Controller.StopCapture(names...)
		return "ok", nil
	}, dispatcher.Logged())

	d.Register(":CAPTURE:PAUSE:", func(e dispatcher.Event) (any, error) {
		deps.Controller.PauseCapture(capturerNames(e.Args)...)
		return "ok", nil
	}, dispatcher.Logged())

	d.Register(":CAPTURE:RESUME:", func(e dispatcher.Event) (any, error) {
		deps.Controller.ResumeCapture(capturerNames(e.Args)...)
		return "ok", nil
	}, dispatcher.Logged())

	// Scene control
	d.Register(":SCENE:PHASE:", func(e dispatcher.Event) (any, error) {
		p, err := ParsePhase(util.CleanArg(e.Arg(0)))
		if err != nil {
			return nil, err
		}
		deps.Controller.SetPhase(p)
		return "ok", nil
	}, dispatcher.Logged())

	d.Register(":SCENE:TARGET:", func(e dispatcher.Event) (any, error) {
		deps.Controller.SetTarget(util.CleanArg(e.Arg(0)))
		return "ok", nil
	}, dispatcher.Logged())

	d.Register(":SCENE:RESET:", func(e dispatcher.Event) (any, error) {
		deps.Controller.ResetScene()
		return "ok", nil
	}, dispatcher.Logged())

	// Fire and forget
	if deps.LogManager != nil {
		d.Register(":LOG:", func(e dispatcher.Event) (any, error) {
			if len(e.Args) < 2 {
				return nil, fmt.Errorf("log needs function and message, got %d args", len(e.Args))
			}
			level := "INFO"
			if len(e.Args) > 2 {
				level = util.CleanArg(e.Args[2])
			}
			deps.LogManager.WriteLog(util.CleanArg(e.Args[0]), util.CleanArg(e.Args[1]), level)
			return nil, nil
		}, dispatcher.Buffered(500))

		// With no argument, reports the current level.
		d.Register(":LOG:LEVEL:", func(e dispatcher.Event) (any, error) {
			if level := util.CleanArg(e.Arg(0)); level != "" {
				if err := deps.LogManager.SetLevel(level); err != nil {
					return nil, err
				}
				log.Info("Log level changed", "level", level)
			}
			return deps.LogManager.Level().String(), nil
		}, dispatcher.Logged())
	}

	if deps.Metrics != nil {
		d.Register(":METRIC:", func(e dispatcher.Event) (any, error) {
			bucket, point, err := influx.ParseMetric(e.Args)
			if err != nil {
				return nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return nil, deps.Metrics.WritePoint(ctx, bucket, point)
		}, dispatcher.Buffered(1000))
	}

	return nil
}

// capturerNames accepts names as separate args or comma lists.
func capturerNames(args []string) []string {
	var names []string
	for _, a := range args {
		names = append(names, util.SplitList(util.CleanArg(a))...)
	}
	return names
}

// ParsePhase accepts "primary" or "secondary", case-insensitive.
func ParsePhase(s string) (capturer.Phase, error) {
	switch strings.ToLower(s) {
	case "primary", "":
		return capturer.Primary, nil
	case "secondary":
		return capturer.Secondary, nil
	default:
		return capturer.Primary, fmt.Errorf("unknown phase %q", s)
	}
}

// ParseLine splits a command line into an event. The first field is the
// command, remaining fields are its arguments; quoted fields may contain
// spaces.
func ParseLine(line string) (dispatcher.Event, bool) {
	fields := util.SplitFields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return dispatcher.Event{}, false
	}
	return dispatcher.Event{
		Command:   strings.ToUpper(fields[0]),
		Args:      fields[1:],
		Timestamp: time.Now(),
	}, true
}

// Reply is written for every command served by Serve.
type Reply struct {
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Serve reads commands line by line from r, dispatches them and writes
// one JSON reply per line to w. It returns when r is exhausted or ctx is
// done.
func Serve(ctx context.Context, d *dispatcher.Dispatcher, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	enc := json.NewEncoder(w)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		reply := Reply{Command: e.Command}
		result, err := d.Dispatch(e)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Result = result
		}
		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
	return scanner.Err()
}
