package playback

import (
	"errors"

	"adstream/internal/models"
)

// ErrSurfaceNotReady aborts an ad start before the main content is paused
var ErrSurfaceNotReady = errors.New("ad surface is not ready")

// MainSurface is the player showing the selected video
type MainSurface interface {
	Pause() error
	Play() error
	Load(source string) error
	CurrentTime() float64
}

// AdSurface is the independent player showing creatives. Completion is
// reported back through Session.CreativeEnded.
type AdSurface interface {
	Ready() bool
	LoadCreative(creative models.Creative) error
	Play() error
	Stop() error
}

type State string

const (
	StateIdle    State = "idle"
	StateShowing State = "showing"
)

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a viewer-visible message
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Status is the interlock's view of the current playback cycle
type Status struct {
	State         State            `json:"state"`
	AdID          string           `json:"ad_id,omitempty"`
	Creative      *models.Creative `json:"creative,omitempty"`
	SkipRemaining int              `json:"skip_remaining"`
	SkipEnabled   bool             `json:"skip_enabled"`
	Scheduled     int              `json:"scheduled"`
	Played        int              `json:"played"`
}

// JumpPoint lets the viewer seek to just before a slot
type JumpPoint struct {
	AdID             string  `json:"ad_id"`
	Label            string  `json:"label"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
	JumpToSeconds    float64 `json:"jump_to_seconds"`
}

// Observer receives updates meant for the viewer. Calls happen on the
// session loop and must not block.
type Observer interface {
	StateChanged(status Status)
	SkipCountdown(remaining int)
	Notify(notice Notice)
	ScheduleChanged(points []JumpPoint)
}

type nopObserver struct{}

func (nopObserver) StateChanged(Status)         {}
func (nopObserver) SkipCountdown(int)           {}
func (nopObserver) Notify(Notice)               {}
func (nopObserver) ScheduleChanged([]JumpPoint) {}
