package models

import (
	"path"
	"strings"
)

// Video is a locally served main-content file
type Video struct {
	Path string `json:"path" yaml:"path"`
	Name string `json:"name" yaml:"name"`
}

// NewVideo derives the display name from the last path element
func NewVideo(p string) Video {
	return Video{Path: p, Name: path.Base(strings.ReplaceAll(p, "\\", "/"))}
}

func (v Video) IsZero() bool {
	return v.Path == ""
}

// MIMEType guesses the upload mime type from the file extension.
func (v Video) MIMEType() string {
	switch strings.ToLower(path.Ext(v.Name)) {
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "video/mp4"
	}
}
