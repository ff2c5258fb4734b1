package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/internal/config"
	"github.com/synthcap/scenecap/internal/render"
	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
)

const sceneJSON = `{
	"name": "warehouse",
	"objects": [
		{"name": "crate_1", "class": "Crate", "tag": {"tag": "crate", "include": true},
		 "parts": [{"name": "mesh", "kind": 1, "asset": "SM_Crate", "visible": true}],
		 "extent": {"x": 1, "y": 1, "z": 1}}
	],
	"markers": [{"name": "north", "location": {"x": 0, "y": 0, "z": 10}}],
	"capturers": [
		{
			"name": "front",
			"viewpoints": [{"name": "left", "enabled": true, "filePostfix": "L"}],
			"extractors": [
				{"channel": "color"},
				{"name": "objects", "channel": "annotation", "filePostfix": "ann"},
				{"channel": "instance_mask", "secondary": true, "enabled": false}
			]
		},
		{"name": "top", "active": false, "settings": {"maxNumberOfFramesToCapture": 3}}
	]
}`

func writeScene(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScene(t *testing.T) {
	sf, err := LoadScene(writeScene(t, sceneJSON))
	require.NoError(t, err)

	assert.Equal(t, "warehouse", sf.Name)
	require.Len(t, sf.Objects, 1)
	assert.Equal(t, core.MeshStatic, sf.Objects[0].Parts[0].Kind)
	assert.True(t, sf.Objects[0].Tag.Valid())
	require.Len(t, sf.Markers, 1)
	assert.Equal(t, 10.0, sf.Markers[0].Location.Z)

	require.Len(t, sf.Capturers, 2)
	assert.True(t, sf.Capturers[0].IsActive())
	assert.False(t, sf.Capturers[1].IsActive())
	require.NotNil(t, sf.Capturers[1].Settings)
	assert.Equal(t, 3, sf.Capturers[1].Settings.MaxFrames)

	w := sf.World()
	assert.Equal(t, "warehouse", w.Name())
	assert.NotNil(t, w.Find("crate_1"))
}

func TestLoadScene_Errors(t *testing.T) {
	_, err := LoadScene(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadScene(writeScene(t, `{"objects": []}`))
	assert.ErrorContains(t, err, "no name")

	_, err = LoadScene(writeScene(t, `{"name": "x", "capturers": [{"name": ""}]}`))
	assert.ErrorContains(t, err, "no name")

	_, err = LoadScene(writeScene(t, `{"name": "x", "capturers": [{"name": "c", "extractors": [{"channel": "normals"}]}]}`))
	assert.ErrorContains(t, err, "unknown channel")

	_, err = LoadScene(writeScene(t, `{"name": `))
	assert.Error(t, err)
}

func TestExtractorSpec(t *testing.T) {
	sf, err := LoadScene(writeScene(t, sceneJSON))
	require.NoError(t, err)
	r := render.New(sf.World())

	specs := sf.Capturers[0].Extractors
	color, err := specs[0].Extractor(r)
	require.NoError(t, err)
	assert.Equal(t, "color", color.Name, "name defaults to the channel")
	assert.True(t, color.Enabled)
	assert.NotNil(t, color.Pixels)
	assert.Nil(t, color.Annotations)

	ann, err := specs[1].Extractor(r)
	require.NoError(t, err)
	assert.Equal(t, core.ChannelAnnotation, ann.Channel)
	assert.Equal(t, "ann", ann.FilePostfix)
	assert.NotNil(t, ann.Annotations)
	assert.Nil(t, ann.Pixels)

	inst, err := specs[2].Extractor(r)
	require.NoError(t, err)
	assert.False(t, inst.Enabled)
	assert.True(t, inst.Secondary)
}

func setupTestConfig(t *testing.T, body string) {
	t.Helper()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(body), 0o644))
	require.NoError(t, config.Load(dir))
	Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateSinks(t *testing.T) {
	setupTestConfig(t, `{}`)
	viper.Set("exporter.rootDir", t.TempDir())

	s, err := createSinks([]string{"Exporter", "visualizer", "notify"}, "front")
	require.NoError(t, err)
	require.NotNil(t, s.exporter)
	require.NotNil(t, s.visualizer)

	multi, ok := s.handler.(*sink.Multi)
	require.True(t, ok)
	assert.Len(t, multi.Handlers(), 2)
	assert.Same(t, s.exporter, multi.Handlers()[0])
}

func TestCreateSinks_Single(t *testing.T) {
	setupTestConfig(t, `{}`)

	s, err := createSinks([]string{"exporter"}, "")
	require.NoError(t, err)
	assert.Same(t, s.exporter, s.handler)
	assert.Nil(t, s.visualizer)
}

func TestCreateSinks_VisualizerAlone(t *testing.T) {
	setupTestConfig(t, `{}`)

	s, err := createSinks([]string{"visualizer"}, "")
	require.NoError(t, err)
	assert.NotNil(t, s.handler)
	assert.Nil(t, s.visualizer)
	assert.Empty(t, s.outputDir())
}

func TestCreateSinks_Errors(t *testing.T) {
	setupTestConfig(t, `{}`)

	_, err := createSinks([]string{"ftp"}, "")
	assert.ErrorContains(t, err, "unknown sink type")

	_, err = createSinks(nil, "")
	assert.Error(t, err)
}

func TestCreateSinks_Recorder(t *testing.T) {
	setupTestConfig(t, `{"db": {"driver": "sqlite", "sqlitePath": ""}}`)
	t.Cleanup(func() {
		if DBManager != nil {
			DBManager.Close()
			DBManager = nil
		}
	})

	s, err := createSinks([]string{"recorder"}, "")
	require.NoError(t, err)
	require.NotNil(t, s.recorder)
	assert.Same(t, s.recorder, s.handler)
	assert.True(t, DBManager.IsValid)
}

func TestCaptureSettings(t *testing.T) {
	setupTestConfig(t, `{"capture": {"interval": 0.5, "maxFrames": 20}}`)

	s, err := captureSettings()
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.CaptureInterval)
	assert.Equal(t, 20, s.MaxFrames)
	assert.Equal(t, capturer.DefaultSettings().Width, s.Width)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"maxNumberOfFramesToCapture": 7, "width": 320}`), 0o644))
	viper.Set("capture.settingsPath", path)

	s, err = captureSettings()
	require.NoError(t, err)
	assert.Equal(t, 7, s.MaxFrames)
	assert.Equal(t, 320, s.Width)
	assert.Zero(t, s.CaptureInterval, "a settings file replaces the configured values")
}

func TestApplyFrameOverride(t *testing.T) {
	t.Cleanup(func() { cmdOverrides = config.Overrides{} })

	s := capturer.DefaultSettings()
	applyFrameOverride(&s)
	assert.Zero(t, s.MaxFrames)

	cmdOverrides = config.Overrides{Frames: 12, HasFrames: true}
	applyFrameOverride(&s)
	assert.Equal(t, 12, s.MaxFrames)
	assert.True(t, s.AutoStart)
}

func TestCapturerSettings_SettingsFileWins(t *testing.T) {
	setupTestConfig(t, `{"capture": {"maxFrames": 20}}`)
	t.Cleanup(func() { cmdOverrides = config.Overrides{} })

	own := capturer.DefaultSettings()
	own.MaxFrames = 3
	spec := CapturerSpec{Name: "top", Settings: &own}

	base, err := captureSettings()
	require.NoError(t, err)
	assert.Equal(t, 3, capturerSettings(base, spec).MaxFrames, "without a settings file the capturer keeps its own")
	assert.Equal(t, 20, capturerSettings(base, CapturerSpec{Name: "front"}).MaxFrames)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"maxNumberOfFramesToCapture": 7}`), 0o644))
	viper.Set("capture.settingsPath", path)

	base, err = captureSettings()
	require.NoError(t, err)
	assert.Equal(t, 7, capturerSettings(base, spec).MaxFrames, "the settings file replaces the capturer's settings")

	cmdOverrides = config.Overrides{Frames: 12, HasFrames: true}
	got := capturerSettings(base, spec)
	assert.Equal(t, 12, got.MaxFrames, "the frame override is applied last")
	assert.True(t, got.AutoStart)
}

func TestCoordinatorConfig(t *testing.T) {
	setupTestConfig(t, `{
		"mask": {"stencilStrategy": "isolate", "targetGroup": "sim_item", "instancePolicy": "spread"},
		"coordinator": {"autoExit": true}
	}`)
	viper.Set("coordinator.allowList", []string{"front"})

	cfg := coordinatorConfig()
	assert.True(t, cfg.AutoExit)
	assert.True(t, cfg.CaptureAtAllMarkers)
	assert.Equal(t, []string{"front"}, cfg.AllowList)
	require.NotNil(t, cfg.Class.TargetGroup)
	assert.True(t, cfg.Class.TargetGroup(&core.SceneObject{Name: "sim_item_3"}))
	assert.False(t, cfg.Class.Pinned(&core.SceneObject{Name: "sim_item_3"}), "empty pinned name matches nothing")
}
