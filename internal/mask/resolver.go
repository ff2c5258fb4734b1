// Package mask derives mask names for scene objects, allocates numeric mask
// IDs within a bounded ID space and writes them into a render channel.
package mask

import (
	"strings"

	"github.com/synthcap/scenecap/pkg/core"
)

// NamePolicy selects how a mask name is derived from an object.
type NamePolicy uint8

const (
	ByInstance NamePolicy = iota
	ByMeshName
	ByTag
	ByClassName
)

// ParseNamePolicy maps a config string to a NamePolicy, defaulting to ByInstance.
func ParseNamePolicy(s string) NamePolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mesh", "meshname":
		return ByMeshName
	case "tag":
		return ByTag
	case "class", "classname":
		return ByClassName
	default:
		return ByInstance
	}
}

func (p NamePolicy) String() string {
	switch p {
	case ByMeshName:
		return "mesh"
	case ByTag:
		return "tag"
	case ByClassName:
		return "class"
	default:
		return "instance"
	}
}

// ResolveName returns the mask name of obj under policy.
// Nil and hidden objects resolve to the empty name. It does not log;
// Manager.MaskName reports nil objects for every lookup path.
func ResolveName(policy NamePolicy, obj *core.SceneObject) string {
	if obj == nil || obj.Hidden {
		return ""
	}
	switch policy {
	case ByTag:
		if obj.Tag != nil {
			return obj.Tag.Tag
		}
		return ""
	case ByMeshName:
		return meshName(obj)
	case ByClassName:
		return obj.Class
	default:
		return obj.Name
	}
}

// meshName returns the asset of the first visible mesh-backed part.
// Objects made of several meshes are named after the first one only.
func meshName(obj *core.SceneObject) string {
	for _, p := range obj.Parts {
		if p == nil || !p.Visible || p.Asset == "" {
			continue
		}
		switch p.Kind {
		case core.MeshStatic, core.MeshSkeletal:
			return p.Asset
		}
	}
	return ""
}
