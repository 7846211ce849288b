package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// VideoLookup reports durations (seconds) for the playable videos among ids.
// Unavailable or non-embeddable videos are absent from the result.
type VideoLookup interface {
	VideoDurations(ctx context.Context, ids []string) (map[string]int, error)
}

// YouTubeLookup checks catalog videos against the YouTube Data API
type YouTubeLookup struct {
	service *youtube.Service
}

// NewYouTubeLookup authenticates with a plain API key: only public video
// metadata is read, so no user consent flow is needed.
func NewYouTubeLookup(ctx context.Context, apiKey string, opts ...option.ClientOption) (*YouTubeLookup, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return &YouTubeLookup{service: service}, nil
}

func (y *YouTubeLookup) VideoDurations(ctx context.Context, ids []string) (map[string]int, error) {
	durations := make(map[string]int, len(ids))
	batchSize := 50

	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		resp, err := y.service.Videos.List([]string{"contentDetails", "status"}).
			Id(strings.Join(ids[i:end], ",")).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get video details: %w", err)
		}

		for _, item := range resp.Items {
			if item.Status != nil && !item.Status.Embeddable {
				continue
			}
			seconds := 0
			if item.ContentDetails != nil {
				seconds = parseDurationSeconds(item.ContentDetails.Duration)
			}
			durations[item.Id] = seconds
		}
	}

	return durations, nil
}

var isoDuration = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)

// parseDurationSeconds parses ISO 8601 durations such as "PT1M30S"
func parseDurationSeconds(duration string) int {
	if duration == "" {
		return 0
	}

	matches := isoDuration.FindStringSubmatch(duration)
	if len(matches) == 0 {
		return 0
	}

	var totalSeconds int
	if matches[1] != "" {
		if hours, err := strconv.Atoi(matches[1]); err == nil {
			totalSeconds += hours * 3600
		}
	}
	if matches[2] != "" {
		if minutes, err := strconv.Atoi(matches[2]); err == nil {
			totalSeconds += minutes * 60
		}
	}
	if matches[3] != "" {
		if seconds, err := strconv.Atoi(matches[3]); err == nil {
			totalSeconds += seconds
		}
	}

	return totalSeconds
}
