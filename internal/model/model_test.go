package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"CaptureSession", &CaptureSession{}, "capture_sessions"},
		{"FrameRecord", &FrameRecord{}, "frame_records"},
		{"SegmentedObject", &SegmentedObject{}, "segmented_objects"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestModelListsMatch(t *testing.T) {
	assert.Len(t, DatabaseModelsSQLite, len(DatabaseModels))
}
