package enums

import "fmt"

// MediaKind classifies an uploaded asset.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

var validMediaKinds = []MediaKind{
	MediaKindImage,
	MediaKindVideo,
	MediaKindAudio,
}

// ProcessingMode says whether an upload is usable immediately or must be transcoded first.
type ProcessingMode int

const (
	ProcessingUnknown ProcessingMode = iota
	ProcessingSync
	ProcessingAsync
)

// String returns the literal string for the kind.
func (m MediaKind) String() string {
	return string(m)
}

// IsValid reports whether the kind is known.
func (m MediaKind) IsValid() bool {
	return m.Processing() != ProcessingUnknown
}

// Processing maps every kind to its processing mode. New kinds must be added here.
func (m MediaKind) Processing() ProcessingMode {
	switch m {
	case MediaKindImage:
		return ProcessingSync
	case MediaKindVideo, MediaKindAudio:
		return ProcessingAsync
	default:
		return ProcessingUnknown
	}
}

// HasDimensions reports whether processed output of this kind carries width and height.
func (m MediaKind) HasDimensions() bool {
	switch m {
	case MediaKindImage, MediaKindVideo:
		return true
	default:
		return false
	}
}

// ParseMediaKind converts raw input into a MediaKind.
func ParseMediaKind(value string) (MediaKind, error) {
	for _, candidate := range validMediaKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid media kind %q", value)
}
