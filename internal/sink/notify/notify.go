// Package notify publishes capture session outcomes to an AMQP 0.9.1 broker
// so downstream workers can pick up finished datasets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
)

var _ sink.Handler = (*Notifier)(nil)

// Routing keys.
const (
	KeyCompleted = "capture.completed"
	KeyStopped   = "capture.stopped"
)

const publishTimeout = 5 * time.Second

// Config holds broker settings.
type Config struct {
	URL      string `json:"url" mapstructure:"url"`
	Exchange string `json:"exchange" mapstructure:"exchange"`
}

// Publisher is the subset of *amqp.Channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is the JSON body of a notification.
type Message struct {
	SessionID string    `json:"sessionId"`
	Capturer  string    `json:"capturer"`
	Scene     string    `json:"scene"`
	Marker    string    `json:"marker,omitempty"`
	Completed bool      `json:"completed"`
	Frames    int       `json:"frames"`
	OutputDir string    `json:"outputDir,omitempty"`
	Time      time.Time `json:"time"`
}

// Dependencies for a Notifier. Channel is dialed from Config.URL when nil.
// OutputDir resolves the dataset directory at the end of a session.
type Dependencies struct {
	Channel   Publisher
	OutputDir func() string
	Logger    *slog.Logger
}

// Notifier is a sink.Handler that emits one message per session end.
type Notifier struct {
	cfg       Config
	channel   Publisher
	conn      *amqp.Connection
	outputDir func() string
	logger    *slog.Logger

	session core.SessionInfo
	frames  int
	active  bool
}

// New creates a notifier.
func New(cfg Config, deps Dependencies) *Notifier {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:       cfg,
		channel:   deps.Channel,
		outputDir: deps.OutputDir,
		logger:    logger.With("component", "notify"),
	}
}

// Init dials the broker unless a channel was injected, and declares the
// topic exchange.
func (n *Notifier) Init() error {
	if n.channel != nil {
		return nil
	}

	conn, err := amqp.Dial(n.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if n.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(n.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", n.cfg.Exchange, err)
		}
	}

	n.conn = conn
	n.channel = ch
	return nil
}

// Close closes the channel and the connection when owned.
func (n *Notifier) Close() error {
	if n.channel != nil {
		if err := n.channel.Close(); err != nil {
			n.logger.Warn("Failed to close channel", "error", err)
		}
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

func (n *Notifier) CanAcceptMore() bool { return true }
func (n *Notifier) IsBusy() bool        { return false }

func (n *Notifier) OnStartCapturing(session core.SessionInfo) error {
	n.session = session
	n.frames = 0
	n.active = true
	return nil
}

func (n *Notifier) OnStopCapturing() error {
	return n.publish(KeyStopped, false)
}

func (n *Notifier) OnCapturingCompleted() error {
	return n.publish(KeyCompleted, true)
}

func (n *Notifier) HandlePixelData(_ *core.PixelData, _ core.ExtractorInfo, _ core.ViewpointInfo, ref core.FrameRef) error {
	n.frames = max(n.frames, ref.Index+1)
	return nil
}

func (n *Notifier) HandleAnnotationData(_ core.Annotation, _ core.ExtractorInfo, _ core.ViewpointInfo, ref core.FrameRef) error {
	n.frames = max(n.frames, ref.Index+1)
	return nil
}

func (n *Notifier) publish(key string, completed bool) error {
	if !n.active {
		return nil
	}
	n.active = false
	if n.channel == nil {
		return fmt.Errorf("notifier not initialized")
	}

	msg := Message{
		SessionID: n.session.ID,
		Capturer:  n.session.Capturer,
		Marker:    n.session.Marker,
		Completed: completed,
		Frames:    n.frames,
		Time:      time.Now().UTC(),
	}
	if n.session.Scene != nil {
		msg.Scene = n.session.Scene.Name()
	}
	if n.outputDir != nil {
		msg.OutputDir = n.outputDir()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = n.channel.PublishWithContext(ctx, n.cfg.Exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.session.ID,
		Timestamp:    msg.Time,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	n.logger.Debug("Published notification", "key", key, "session", msg.SessionID, "frames", msg.Frames)
	return nil
}
