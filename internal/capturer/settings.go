package capturer

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"
)

// Settings control a capture session. A settings file replaces them wholesale.
type Settings struct {
	// CaptureInterval is the minimum simulation time between captures, in seconds.
	CaptureInterval float64 `json:"captureInterval" mapstructure:"interval"`
	// MaxFrames stops the session after that many counted frames. 0 is unbounded.
	MaxFrames             int    `json:"maxNumberOfFramesToCapture" mapstructure:"maxFrames"`
	AutoStart             bool   `json:"autoStart" mapstructure:"autoStart"`
	PauseGameWhenFlushing bool   `json:"pauseGameWhenFlushing" mapstructure:"pauseGameWhenFlushing"`
	OutputPath            string `json:"outputPath" mapstructure:"outputPath"`

	Width  int     `json:"width" mapstructure:"width"`
	Height int     `json:"height" mapstructure:"height"`
	FOV    float64 `json:"fov" mapstructure:"fov"`
	// FOVRange, when its upper bound is above the lower one, randomizes the
	// field of view of every viewpoint after each captured frame.
	FOVRange [2]float64 `json:"fovRange" mapstructure:"fovRange"`
}

// DefaultSettings returns the settings used when no configuration is given.
func DefaultSettings() Settings {
	return Settings{
		CaptureInterval:       0,
		MaxFrames:             0,
		PauseGameWhenFlushing: true,
		Width:                 640,
		Height:                480,
		FOV:                   90,
	}
}

// Interval returns the capture interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.CaptureInterval * float64(time.Second))
}

// Randomized reports whether the field of view is sampled per frame.
func (s Settings) Randomized() bool {
	return s.FOVRange[1] > s.FOVRange[0]
}

// sampleFOV returns a field of view drawn from FOVRange.
func (s Settings) sampleFOV() float64 {
	return s.FOVRange[0] + rand.Float64()*(s.FOVRange[1]-s.FOVRange[0])
}

// LoadSettings reads a settings JSON file on top of DefaultSettings.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("reading settings file: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	return s, nil
}
