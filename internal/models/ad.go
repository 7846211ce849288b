package models

import "fmt"

// CreativeKind distinguishes catalog video ads from generated ad units
type CreativeKind string

const (
	CreativeCatalog CreativeKind = "catalog"
	CreativeInline  CreativeKind = "inline"
)

// CatalogAd is one entry of the fixed ad catalog
type CatalogAd struct {
	ID              string   `json:"id" yaml:"id"`
	Title           string   `json:"title" yaml:"title"`
	Description     string   `json:"description" yaml:"description"`
	Brand           string   `json:"brand" yaml:"brand"`
	Tags            []string `json:"tags,omitempty" yaml:"tags"`
	YouTubeID       string   `json:"youtube_id" yaml:"youtube_id"`
	DurationSeconds int      `json:"duration_seconds,omitempty" yaml:"duration_seconds"`
}

// Creative is the content shown for a slot. Catalog creatives carry the
// resolved catalog fields; inline creatives carry generated copy.
type Creative struct {
	Kind        CreativeKind `json:"kind"`
	AdID        string       `json:"ad_id,omitempty"`
	YouTubeID   string       `json:"youtube_id,omitempty"`
	Brand       string       `json:"brand,omitempty"`
	Title       string       `json:"title,omitempty"`
	Copy        string       `json:"copy,omitempty"`
	CTAURL      string       `json:"cta_url,omitempty"`
	ImagePrompt string       `json:"image_prompt,omitempty"`
}

func (c Creative) String() string {
	if c.Kind == CreativeCatalog {
		return fmt.Sprintf("%s - %s (%s)", c.Brand, c.Title, c.AdID)
	}
	return fmt.Sprintf("%s - %s (inline)", c.Brand, c.Title)
}

// AdSlot is one scheduled ad opportunity. Only HasPlayed changes after creation.
type AdSlot struct {
	TimestampSeconds float64  `json:"timestamp_seconds"`
	DurationSeconds  float64  `json:"duration_seconds,omitempty"`
	Creative         Creative `json:"creative"`
	Reason           string   `json:"reason,omitempty"`

	HasPlayed bool `json:"-"`
}

// Window returns the eligibility window length, falling back to def when
// the slot carries no duration.
func (s *AdSlot) Window(def float64) float64 {
	if s.DurationSeconds > 0 {
		return s.DurationSeconds
	}
	return def
}

// EligibleAt reports whether the slot may trigger at time t.
// The window is half-open: [start, start+window).
func (s *AdSlot) EligibleAt(t, defaultWindow float64) bool {
	if s.HasPlayed {
		return false
	}
	return t >= s.TimestampSeconds && t < s.TimestampSeconds+s.Window(defaultWindow)
}

// ID returns a stable label for logs and the browser
func (s *AdSlot) ID() string {
	if s.Creative.AdID != "" {
		return s.Creative.AdID
	}
	return fmt.Sprintf("inline@%s", FormatTime(s.TimestampSeconds))
}

// CloneSchedule copies slots so a cached schedule is never mutated by playback.
func CloneSchedule(slots []*AdSlot) []*AdSlot {
	out := make([]*AdSlot, 0, len(slots))
	for _, s := range slots {
		if s == nil {
			continue
		}
		c := *s
		c.HasPlayed = false
		out = append(out, &c)
	}
	return out
}

// FormatTime renders seconds as m:ss
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
