package constants

import "strings"

// SourceType is the kind of raw material a note was created from.
type SourceType string

const (
	SourceAudio SourceType = "audio"
	SourcePDF   SourceType = "pdf"
	SourceImage SourceType = "image"
	SourceLink  SourceType = "link"
	SourceText  SourceType = "text"
)

// SourceTypes holds every accepted value for notes.source_type.
var SourceTypes = []SourceType{SourceAudio, SourcePDF, SourceImage, SourceLink, SourceText}

// AllowedExtensions maps file extensions accepted for upload ingestion to their source type.
var AllowedExtensions = map[string]SourceType{
	"pdf":  SourcePDF,
	"jpg":  SourceImage,
	"jpeg": SourceImage,
	"png":  SourceImage,
	"webp": SourceImage,
	"heic": SourceImage,
	"heif": SourceImage,
	"mp3":  SourceAudio,
	"m4a":  SourceAudio,
	"wav":  SourceAudio,
	"webm": SourceAudio,
	"ogg":  SourceAudio,
	"mp4":  SourceAudio,
	"txt":  SourceText,
	"md":   SourceText,
}

const (
	// MaxTranscriptionBytes is the upload cap of the transcription API.
	MaxTranscriptionBytes = 25 * 1024 * 1024
	// MaxVisionMBDefault caps images sent inline to the vision model.
	MaxVisionMBDefault = 20
	DefaultLanguage    = "en"
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MapExtToSource returns the source type for a file extension, or "" if unsupported.
func MapExtToSource(ext string) SourceType {
	return AllowedExtensions[NormalizeExt(ext)]
}

func IsHEICExt(ext string) bool {
	switch NormalizeExt(ext) {
	case "heic", "heif", "heics", "heifs":
		return true
	}
	return false
}

func (s SourceType) Valid() bool {
	for _, t := range SourceTypes {
		if t == s {
			return true
		}
	}
	return false
}

// HasFile reports whether notes of this type carry an uploaded file.
func (s SourceType) HasFile() bool {
	return s == SourceAudio || s == SourcePDF || s == SourceImage
}
