package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&CaptureSession{},
	&FrameRecord{},
	&SegmentedObject{},
}

// DatabaseModelsSQLite is the schema used by the local fallback database.
var DatabaseModelsSQLite = []interface{}{
	&CaptureSession{},
	&FrameRecord{},
	&SegmentedObject{},
}

// Session status values.
const (
	StatusRunning   = "running"
	StatusStopped   = "stopped"
	StatusCompleted = "completed"
)

////////////////////////
// CAPTURE MODELS
////////////////////////

// CaptureSession is one capture run of a capturer at a marker
type CaptureSession struct {
	gorm.Model
	SessionID      string         `json:"sessionId" gorm:"size:36;uniqueIndex"`
	Capturer       string         `json:"capturer" gorm:"size:127;index:idx_session_capturer"`
	Scene          string         `json:"scene" gorm:"size:127"`
	Marker         string         `json:"marker" gorm:"size:127"`
	MarkerLocation geom.Point     `json:"markerLocation"`
	StartTime      time.Time      `json:"startTime" gorm:"index:idx_session_start"`
	EndTime        *time.Time     `json:"endTime"`
	Status         string         `json:"status" gorm:"size:32"`
	FrameCount     int            `json:"frameCount"`
	OutputDir      string         `json:"outputDir" gorm:"size:512"`
	Viewpoints     datatypes.JSON `json:"viewpoints" gorm:"type:jsonb;default:'[]'"`
}

func (*CaptureSession) TableName() string {
	return "capture_sessions"
}

// FrameRecord is one payload delivered to the sink
type FrameRecord struct {
	ID               uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	CaptureSessionID uint           `json:"captureSessionId" gorm:"index:idx_frame_session_id"`
	CaptureSession   CaptureSession `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:CaptureSessionID;"`
	Time             time.Time      `json:"time"`
	FrameIndex       int            `json:"frameIndex" gorm:"index:idx_frame_index"`
	GroupIndex       int            `json:"groupIndex"`
	SubImageIndex    int            `json:"subImageIndex"`
	Viewpoint        string         `json:"viewpoint" gorm:"size:127"`
	Extractor        string         `json:"extractor" gorm:"size:127"`
	Channel          string         `json:"channel" gorm:"size:32"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	Annotation       datatypes.JSON `json:"annotation" gorm:"type:jsonb"`
}

func (*FrameRecord) TableName() string {
	return "frame_records"
}

// SegmentedObject is a tagged object and its mask IDs at session start
type SegmentedObject struct {
	ID               uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	CaptureSessionID uint           `json:"captureSessionId" gorm:"index:idx_object_session_id"`
	CaptureSession   CaptureSession `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:CaptureSessionID;"`
	Name             string         `json:"name" gorm:"size:127"`
	Class            string         `json:"class" gorm:"size:127"`
	Tag              string         `json:"tag" gorm:"size:127"`
	ClassID          uint8          `json:"classId"`
	InstanceID       uint32         `json:"instanceId"`
	Position         geom.Point     `json:"position"`
	Extent           datatypes.JSON `json:"extent" gorm:"type:jsonb"`
}

func (*SegmentedObject) TableName() string {
	return "segmented_objects"
}
