package exporter

import (
	"strings"
)

// ConflictPolicy decides what happens when the output directory exists.
type ConflictPolicy uint8

const (
	// Overwrite writes into the existing directory.
	Overwrite ConflictPolicy = iota
	// Clean removes the existing directory first.
	Clean
	// TimestampPostfix writes into a new sibling directory named with the
	// current time.
	TimestampPostfix
)

// ParseConflictPolicy maps a config string to a ConflictPolicy.
func ParseConflictPolicy(s string) ConflictPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clean":
		return Clean
	case "timestamp", "timestamp_postfix":
		return TimestampPostfix
	default:
		return Overwrite
	}
}

func (p ConflictPolicy) String() string {
	switch p {
	case Clean:
		return "clean"
	case TimestampPostfix:
		return "timestamp"
	default:
		return "overwrite"
	}
}

// Format is the encoding of exported pixel data.
type Format string

const (
	PNG      Format = "png"
	JPEG     Format = "jpg"
	GrayJPEG Format = "gray_jpg"
	BMP      Format = "bmp"
)

// ParseFormat maps a config string to a Format, defaulting to PNG.
func ParseFormat(s string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JPEG, GrayJPEG, BMP:
		return f
	case "jpeg":
		return JPEG
	default:
		return PNG
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	switch f {
	case JPEG, GrayJPEG:
		return ".jpg"
	case BMP:
		return ".bmp"
	default:
		return ".png"
	}
}

// Config configures an Exporter.
type Config struct {
	// RootDir holds every capture directory. A session output path
	// replaces it.
	RootDir string `json:"rootDir" mapstructure:"rootDir"`
	// FolderName names the capture directory. Defaults to the scene name.
	FolderName string `json:"folderName" mapstructure:"folderName"`
	SubFolder  string `json:"subFolder" mapstructure:"subFolder"`
	// UseMarkerName nests frames of each marker in its own directory.
	UseMarkerName bool           `json:"useMarkerName" mapstructure:"useMarkerName"`
	Format        Format         `json:"imageFormat" mapstructure:"imageFormat"`
	JPEGQuality   int            `json:"jpegQuality" mapstructure:"jpegQuality"`
	Conflict      ConflictPolicy `json:"conflict" mapstructure:"conflict"`
	// MaxPendingImages bounds queued image writes. 0 is unbounded.
	MaxPendingImages int `json:"maxPendingImages" mapstructure:"maxPendingImages"`
	// Writers is the number of concurrent image encoders.
	Writers int `json:"writers" mapstructure:"writers"`
	// ExportSettings writes the object and camera settings at session start.
	ExportSettings bool `json:"exportSettings" mapstructure:"exportSettings"`
}

// DefaultConfig returns PNG export into ./captures.
func DefaultConfig() Config {
	return Config{
		RootDir:          "captures",
		Format:           PNG,
		JPEGQuality:      95,
		MaxPendingImages: 100,
		Writers:          4,
		ExportSettings:   true,
	}
}
