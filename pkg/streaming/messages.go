package streaming

import (
	"encoding/json"

	"github.com/synthcap/scenecap/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeSessionStart = "session_start"
	TypeSessionStop  = "session_stop"
	TypeSessionEnd   = "session_end"
	TypeFrame        = "frame"
	TypeAnnotation   = "annotation"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// SessionStartPayload announces a capture session.
type SessionStartPayload struct {
	SessionID  string               `json:"sessionId"`
	Capturer   string               `json:"capturer"`
	Scene      string               `json:"scene"`
	Marker     string               `json:"marker,omitempty"`
	Viewpoints []core.ViewpointInfo `json:"viewpoints"`
}

// SessionEndPayload closes a capture session.
type SessionEndPayload struct {
	SessionID string `json:"sessionId"`
	Completed bool   `json:"completed"`
	Frames    int    `json:"frames"`
}

// FramePayload describes one captured image. Thumbnail is a base64 PNG
// when thumbnails are enabled.
type FramePayload struct {
	SessionID string        `json:"sessionId"`
	Ref       core.FrameRef `json:"ref"`
	Viewpoint string        `json:"viewpoint"`
	Extractor string        `json:"extractor"`
	Channel   string        `json:"channel"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Thumbnail string        `json:"thumbnail,omitempty"`
}

// AnnotationPayload carries structured frame data.
type AnnotationPayload struct {
	SessionID string          `json:"sessionId"`
	Ref       core.FrameRef   `json:"ref"`
	Viewpoint string          `json:"viewpoint"`
	Extractor string          `json:"extractor"`
	Data      core.Annotation `json:"data"`
}
