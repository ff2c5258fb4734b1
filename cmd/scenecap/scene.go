package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/pkg/core"
)

// SceneFile is the JSON description of a headless scene: its objects,
// the markers to capture at and the capturers placed in it.
type SceneFile struct {
	Name      string              `json:"name"`
	Objects   []*core.SceneObject `json:"objects"`
	Markers   []*core.Marker      `json:"markers"`
	Capturers []CapturerSpec      `json:"capturers"`
}

// CapturerSpec describes one capturer of a scene file.
type CapturerSpec struct {
	Name string `json:"name"`
	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
	// Settings replace the configured capture settings for this capturer.
	Settings   *capturer.Settings           `json:"settings,omitempty"`
	Viewpoints []capturer.ViewpointSettings `json:"viewpoints"`
	Extractors []ExtractorSpec              `json:"extractors"`
}

// ExtractorSpec describes one feature extractor of a capturer.
type ExtractorSpec struct {
	Name        string `json:"name"`
	Channel     string `json:"channel"`
	FilePostfix string `json:"filePostfix"`
	// Enabled defaults to true.
	Enabled   *bool `json:"enabled,omitempty"`
	Secondary bool  `json:"secondary"`
}

// LoadScene reads and validates a scene file.
func LoadScene(path string) (*SceneFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}
	var sf SceneFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing scene file %s: %w", path, err)
	}
	if sf.Name == "" {
		return nil, errors.New("scene file has no name")
	}
	for i, c := range sf.Capturers {
		if c.Name == "" {
			return nil, fmt.Errorf("capturer %d has no name", i)
		}
		for _, ex := range c.Extractors {
			if _, err := core.ParseChannel(ex.Channel); err != nil {
				return nil, fmt.Errorf("capturer %s extractor %s: %w", c.Name, ex.Name, err)
			}
		}
	}
	return &sf, nil
}

// World builds the in-memory scene.
func (sf *SceneFile) World() *core.World {
	return core.NewWorld(sf.Name, sf.Objects...)
}

// IsActive reports whether the capturer starts out active.
func (c CapturerSpec) IsActive() bool {
	return c.Active == nil || *c.Active
}

// Extractor builds the extractor, fed by src for both pixel and
// annotation channels.
func (e ExtractorSpec) Extractor(src interface {
	capturer.PixelSource
	capturer.AnnotationSource
}) (*capturer.Extractor, error) {
	ch, err := core.ParseChannel(e.Channel)
	if err != nil {
		return nil, err
	}
	name := e.Name
	if name == "" {
		name = ch.String()
	}
	ex := &capturer.Extractor{
		Name:        name,
		Channel:     ch,
		FilePostfix: e.FilePostfix,
		Enabled:     e.Enabled == nil || *e.Enabled,
		Secondary:   e.Secondary,
	}
	if ch == core.ChannelAnnotation {
		ex.Annotations = src
	} else {
		ex.Pixels = src
	}
	return ex, nil
}
