package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides([]string{
		"game.exe",
		"-OutputPath=run_01",
		"-NumberOfFrame=500",
		"-SettingsPath=cfg/settings.json",
		"-Capturers=front, top,,",
		"-windowed",
	})
	require.NoError(t, err)

	assert.Equal(t, "run_01", o.OutputPath)
	assert.True(t, o.HasFrames)
	assert.Equal(t, 500, o.Frames)
	assert.Equal(t, "cfg/settings.json", o.SettingsPath)
	assert.Equal(t, []string{"front", "top"}, o.Capturers)
}

func TestParseOverrides_Empty(t *testing.T) {
	o, err := ParseOverrides(nil)
	require.NoError(t, err)
	assert.False(t, o.HasFrames)
	assert.Empty(t, o.OutputPath)
	assert.Empty(t, o.Capturers)
}

func TestParseOverrides_CaseInsensitiveKeys(t *testing.T) {
	o, err := ParseOverrides([]string{"-outputpath=x", "-numberofframe=0"})
	require.NoError(t, err)
	assert.Equal(t, "x", o.OutputPath)
	assert.True(t, o.HasFrames)
	assert.Equal(t, 0, o.Frames)
}

func TestParseOverrides_InvalidFrameCount(t *testing.T) {
	_, err := ParseOverrides([]string{"-NumberOfFrame=lots"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NumberOfFrame")
}

func TestParseCommandLine_QuotedValue(t *testing.T) {
	o, err := ParseCommandLine(`Game -OutputPath="my run" -NumberOfFrame=10`)
	require.NoError(t, err)
	assert.Equal(t, "my run", o.OutputPath)
	assert.Equal(t, 10, o.Frames)
}

func TestOverridesApply(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	o := Overrides{
		OutputPath:   "run_02",
		Frames:       25,
		HasFrames:    true,
		SettingsPath: "settings.json",
		Capturers:    []string{"front"},
	}
	o.Apply("/project")

	cc := GetCaptureConfig()
	assert.Equal(t, 25, cc.MaxFrames)
	assert.True(t, cc.AutoStart)
	assert.Empty(t, cc.OutputPath, "the output root is left alone")
	assert.Equal(t, "run_02", GetExporterConfig().FolderName)
	assert.Equal(t, filepath.Join("/project", "settings.json"), GetSettingsPath())
	assert.Equal(t, []string{"front"}, GetAllowList())
}

func TestOverridesApply_NoFramesKeepsAutoStart(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	Overrides{SettingsPath: "/abs/settings.json"}.Apply("/project")

	assert.False(t, GetCaptureConfig().AutoStart)
	assert.Equal(t, "/abs/settings.json", GetSettingsPath())
	assert.Empty(t, GetAllowList())
}
