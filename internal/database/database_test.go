package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthcap/scenecap/internal/model"
)

func TestSqliteFileSetup(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.SqliteFilePath = filepath.Join(t.TempDir(), "capture.db")

	require.NoError(t, m.Connect("sqlite"))
	t.Cleanup(func() { _ = m.Close() })
	assert.True(t, m.IsValid)
	assert.True(t, m.ShouldSaveLocal)

	require.NoError(t, m.Setup())
	for _, tbl := range model.DatabaseModelsSQLite {
		assert.True(t, m.DB.Migrator().HasTable(tbl))
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	session := &model.CaptureSession{SessionID: "abc", Capturer: "cam", Status: model.StatusRunning, StartTime: start, EndTime: &end}
	require.NoError(t, m.DB.Create(session).Error)
	require.NoError(t, m.DB.Create(&model.FrameRecord{CaptureSessionID: session.ID, Time: end, FrameIndex: 4}).Error)

	var got model.CaptureSession
	require.NoError(t, m.DB.Where("session_id = ?", "abc").First(&got).Error)
	assert.Equal(t, "cam", got.Capturer)
	assert.True(t, start.Equal(got.StartTime), "start time reads back as a time, got %v", got.StartTime)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))

	var frame model.FrameRecord
	require.NoError(t, m.DB.Where("capture_session_id = ?", session.ID).First(&frame).Error)
	assert.Equal(t, 4, frame.FrameIndex)
	assert.True(t, end.Equal(frame.Time))
}

func TestDumpMemoryToDisk(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Connect("sqlite"))
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Setup())

	assert.Error(t, m.DumpMemoryToDisk(""))

	path := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, m.DumpMemoryToDisk(path))
	assert.FileExists(t, path)
}
