package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/synthcap/scenecap/internal/util"
)

// Overrides are the free-text key=value overrides accepted on the command line.
type Overrides struct {
	// OutputPath replaces the exporter folder name.
	OutputPath string
	// Frames is set when NumberOfFrame was given.
	Frames    int
	HasFrames bool
	// SettingsPath points to a capture settings JSON that replaces the
	// configured settings wholesale.
	SettingsPath string
	// Capturers is the allow-list of capturer names. Empty allows all.
	Capturers []string
}

// ParseOverrides scans args for -OutputPath=, -NumberOfFrame=,
// -SettingsPath= and -Capturers=. Keys are case-insensitive and unknown
// arguments are ignored.
func ParseOverrides(args []string) (Overrides, error) {
	var o Overrides
	for _, arg := range args {
		key, value, ok := splitArg(arg)
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "outputpath":
			o.OutputPath = value
		case "numberofframe":
			n, err := strconv.Atoi(value)
			if err != nil {
				return o, fmt.Errorf("invalid NumberOfFrame %q: %w", value, err)
			}
			o.Frames = n
			o.HasFrames = true
		case "settingspath":
			o.SettingsPath = value
		case "capturers":
			o.Capturers = util.SplitList(value)
		}
	}
	return o, nil
}

// ParseCommandLine splits a free-text command line on whitespace, keeping
// double-quoted values together, and parses the overrides in it.
func ParseCommandLine(line string) (Overrides, error) {
	return ParseOverrides(util.SplitFields(line))
}

func splitArg(arg string) (string, string, bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", "", false
	}
	key, value, ok := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, strings.Trim(value, `"`), true
}

// Apply writes the overrides into the loaded configuration. NumberOfFrame
// also turns on auto start. A relative SettingsPath is resolved against
// baseDir.
func (o Overrides) Apply(baseDir string) {
	if o.OutputPath != "" {
		viper.Set("exporter.folderName", o.OutputPath)
	}
	if o.HasFrames {
		viper.Set("capture.maxFrames", o.Frames)
		viper.Set("capture.autoStart", true)
	}
	if o.SettingsPath != "" && !filepath.IsAbs(o.SettingsPath) {
		o.SettingsPath = filepath.Join(baseDir, o.SettingsPath)
	}
	if o.SettingsPath != "" {
		viper.Set("capture.settingsPath", o.SettingsPath)
	}
	if len(o.Capturers) > 0 {
		viper.Set("coordinator.allowList", o.Capturers)
	}
}

// GetSettingsPath returns the capture settings override file, if any.
func GetSettingsPath() string {
	return viper.GetString("capture.settingsPath")
}

// GetAllowList returns the capturer allow-list, if any.
func GetAllowList() []string {
	return viper.GetStringSlice("coordinator.allowList")
}
