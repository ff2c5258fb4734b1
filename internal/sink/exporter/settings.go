package exporter

import (
	"math"

	"github.com/synthcap/scenecap/pkg/core"
)

type objectSettings struct {
	ExportedObjectClasses []string         `json:"exported_object_classes"`
	ExportedObjects       []exportedObject `json:"exported_objects"`
}

type exportedObject struct {
	Class                  string     `json:"class"`
	SegmentationClassID    uint8      `json:"segmentation_class_id"`
	SegmentationInstanceID uint32     `json:"segmentation_instance_id"`
	Location               [3]float64 `json:"location"`
	CuboidDimensions       [3]float64 `json:"cuboid_dimensions"`
}

type cameraSettings struct {
	CameraSettings []viewpointSettings `json:"camera_settings"`
}

type viewpointSettings struct {
	Name              string    `json:"name"`
	HorizontalFOV     float64   `json:"horizontal_fov"`
	Intrinsic         intrinsic `json:"intrinsic_settings"`
	CapturedImageSize imageSize `json:"captured_image_size"`
}

type intrinsic struct {
	ResX int     `json:"resX"`
	ResY int     `json:"resY"`
	Fx   float64 `json:"fx"`
	Fy   float64 `json:"fy"`
	Cx   float64 `json:"cx"`
	Cy   float64 `json:"cy"`
	S    float64 `json:"s"`
}

type imageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func objectSettingsFor(session core.SessionInfo) objectSettings {
	out := objectSettings{
		ExportedObjectClasses: []string{},
		ExportedObjects:       []exportedObject{},
	}
	if session.Scene == nil {
		return out
	}
	for _, obj := range session.Scene.Objects() {
		if obj == nil || obj.Hidden || !obj.Tag.Valid() {
			continue
		}
		eo := exportedObject{
			Class:            obj.Tag.Tag,
			Location:         [3]float64{obj.Location.X, obj.Location.Y, obj.Location.Z},
			CuboidDimensions: [3]float64{obj.Extent.X, obj.Extent.Y, obj.Extent.Z},
		}
		if session.SegmentationIDs != nil {
			eo.SegmentationClassID, eo.SegmentationInstanceID = session.SegmentationIDs(obj)
		}
		out.ExportedObjects = append(out.ExportedObjects, eo)
		out.ExportedObjectClasses = append(out.ExportedObjectClasses, eo.Class)
	}
	return out
}

func cameraSettingsFor(session core.SessionInfo) cameraSettings {
	out := cameraSettings{CameraSettings: []viewpointSettings{}}
	for _, vp := range session.Viewpoints {
		out.CameraSettings = append(out.CameraSettings, viewpointSettings{
			Name:              vp.Name,
			HorizontalFOV:     vp.FOV,
			Intrinsic:         intrinsicFor(vp),
			CapturedImageSize: imageSize{Width: vp.Width, Height: vp.Height},
		})
	}
	return out
}

// intrinsicFor derives a pinhole camera from the horizontal field of view.
func intrinsicFor(vp core.ViewpointInfo) intrinsic {
	cx := float64(vp.Width) / 2
	cy := float64(vp.Height) / 2
	f := 0.0
	if vp.FOV > 0 && vp.FOV < 180 {
		f = cx / math.Tan(vp.FOV*math.Pi/360)
	}
	return intrinsic{ResX: vp.Width, ResY: vp.Height, Fx: f, Fy: f, Cx: cx, Cy: cy}
}
