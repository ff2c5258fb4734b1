package capturer

import "github.com/synthcap/scenecap/pkg/core"

// ViewpointSettings configure one camera of a capturer.
type ViewpointSettings struct {
	Name        string          `json:"name"`
	Enabled     bool            `json:"enabled"`
	FilePostfix string          `json:"filePostfix"`
	Offset      core.Position3D `json:"offset"`
}

// Viewpoint is one camera producing a stream of frames. It runs its own
// copy of the capturer's extractors.
type Viewpoint struct {
	settings   ViewpointSettings
	owner      *Capturer
	extractors []*Extractor
	fov        float64
	capturing  bool
}

func newViewpoint(owner *Capturer, s ViewpointSettings) *Viewpoint {
	vp := &Viewpoint{settings: s, owner: owner, fov: owner.settings.FOV}
	for _, ex := range owner.extractors {
		vp.extractors = append(vp.extractors, ex.clone())
	}
	return vp
}

// Name returns the viewpoint name.
func (v *Viewpoint) Name() string {
	return v.settings.Name
}

// Enabled reports whether the viewpoint captures.
func (v *Viewpoint) Enabled() bool {
	return v.settings.Enabled
}

// SetEnabled toggles the viewpoint.
func (v *Viewpoint) SetEnabled(enabled bool) {
	v.settings.Enabled = enabled
}

// Capturing reports whether the viewpoint is between start and stop.
func (v *Viewpoint) Capturing() bool {
	return v.capturing
}

// Extractors returns the viewpoint's extractor copies.
func (v *Viewpoint) Extractors() []*Extractor {
	return v.extractors
}

// Info describes the viewpoint to sinks.
func (v *Viewpoint) Info() core.ViewpointInfo {
	loc := v.owner.location
	loc.X += v.settings.Offset.X
	loc.Y += v.settings.Offset.Y
	loc.Z += v.settings.Offset.Z
	return core.ViewpointInfo{
		Name:        v.settings.Name,
		FilePostfix: v.settings.FilePostfix,
		FOV:         v.fov,
		Width:       v.owner.settings.Width,
		Height:      v.owner.settings.Height,
		Location:    loc,
	}
}

func (v *Viewpoint) start() { v.capturing = true }
func (v *Viewpoint) stop()  { v.capturing = false }

// randomize samples a new field of view when the settings ask for it.
func (v *Viewpoint) randomize() {
	if v.owner.settings.Randomized() {
		v.fov = v.owner.settings.sampleFOV()
	}
}

// syncExtractors copies enabled flags from the capturer-level extractors.
func (v *Viewpoint) syncExtractors(src []*Extractor) {
	for i, ex := range v.extractors {
		if i >= len(src) {
			break
		}
		ex.Enabled = src[i].Enabled
		ex.WasEnabled = src[i].WasEnabled
	}
}
