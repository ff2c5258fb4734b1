// Package stream sends capture sessions to a live viewer over WebSocket.
// Session boundaries wait for a server ack; frames are fire-and-forget.
package stream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
	"github.com/synthcap/scenecap/pkg/streaming"
)

var _ sink.Handler = (*Stream)(nil)

// Aliases so callers and tests can use the protocol types unqualified.
type (
	Envelope            = streaming.Envelope
	AckMessage          = streaming.AckMessage
	SessionStartPayload = streaming.SessionStartPayload
	SessionEndPayload   = streaming.SessionEndPayload
	FramePayload        = streaming.FramePayload
	AnnotationPayload   = streaming.AnnotationPayload
)

const (
	TypeSessionStart = streaming.TypeSessionStart
	TypeSessionStop  = streaming.TypeSessionStop
	TypeSessionEnd   = streaming.TypeSessionEnd
	TypeFrame        = streaming.TypeFrame
	TypeAnnotation   = streaming.TypeAnnotation
)

// Config holds WebSocket stream configuration.
type Config struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
	// ThumbnailSize is the edge of the PNG preview attached to frames.
	// 0 sends metadata only.
	ThumbnailSize int `json:"thumbnailSize" mapstructure:"thumbnailSize"`
}

// Stream is a sink.Handler for a WebSocket viewer.
type Stream struct {
	conn    *connection
	cfg     Config
	session string
	frames  int
}

// New creates a stream sink.
func New(cfg Config, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		conn: newConnection(log.With("component", "stream")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (s *Stream) Init() error {
	return s.conn.dial(s.cfg.URL, s.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (s *Stream) Close() error {
	return s.conn.close()
}

// CanAcceptMore reports whether the send buffer is less than half full.
func (s *Stream) CanAcceptMore() bool {
	return s.conn.pending() < sendChSize/2
}

// IsBusy reports whether messages are waiting to be written.
func (s *Stream) IsBusy() bool {
	return s.conn.pending() > 0
}

// Dropped returns how many frame and annotation messages were discarded
// because the send buffer was full.
func (s *Stream) Dropped() int64 {
	return s.conn.dropped.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (s *Stream) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	if !s.conn.send(data) {
		return fmt.Errorf("%s dropped, send buffer full", msgType)
	}
	return nil
}

// OnStartCapturing announces the session and waits for the server ack.
func (s *Stream) OnStartCapturing(info core.SessionInfo) error {
	p := streaming.SessionStartPayload{
		SessionID:  info.ID,
		Capturer:   info.Capturer,
		Marker:     info.Marker,
		Viewpoints: info.Viewpoints,
	}
	if info.Scene != nil {
		p.Scene = info.Scene.Name()
	}
	data, err := marshalEnvelope(streaming.TypeSessionStart, p)
	if err != nil {
		return err
	}

	s.conn.setSessionStart(data)
	s.session = info.ID
	s.frames = 0

	return s.conn.sendAndWait(data, streaming.TypeSessionStart, ackTimeout)
}

// OnStopCapturing reports an aborted session.
func (s *Stream) OnStopCapturing() error {
	return s.end(streaming.TypeSessionStop, false)
}

// OnCapturingCompleted reports a finished session and waits for the ack.
func (s *Stream) OnCapturingCompleted() error {
	return s.end(streaming.TypeSessionEnd, true)
}

func (s *Stream) end(msgType string, completed bool) error {
	data, err := marshalEnvelope(msgType, streaming.SessionEndPayload{
		SessionID: s.session,
		Completed: completed,
		Frames:    s.frames,
	})
	if err != nil {
		return err
	}

	s.conn.setSessionStart(nil)

	if !completed {
		return s.conn.sendControl(data)
	}
	return s.conn.sendAndWait(data, msgType, ackTimeout)
}

func (s *Stream) HandlePixelData(px *core.PixelData, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	p := streaming.FramePayload{
		SessionID: s.session,
		Ref:       ref,
		Viewpoint: vp.Name,
		Extractor: ex.Name,
		Channel:   ex.Channel.String(),
	}
	if px != nil && px.Image != nil {
		b := px.Image.Bounds()
		p.Width, p.Height = b.Dx(), b.Dy()
		if s.cfg.ThumbnailSize > 0 {
			thumb, err := thumbnail(px, s.cfg.ThumbnailSize)
			if err != nil {
				return err
			}
			p.Thumbnail = thumb
		}
	}
	s.frames = max(s.frames, ref.Index+1)
	return s.sendEnvelope(streaming.TypeFrame, p)
}

func (s *Stream) HandleAnnotationData(a core.Annotation, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	return s.sendEnvelope(streaming.TypeAnnotation, streaming.AnnotationPayload{
		SessionID: s.session,
		Ref:       ref,
		Viewpoint: vp.Name,
		Extractor: ex.Name,
		Data:      a,
	})
}

// thumbnail fits the image into a size x size box and encodes it as base64 PNG.
func thumbnail(px *core.PixelData, size int) (string, error) {
	img := imaging.Fit(px.Image, size, size, imaging.Box)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
