package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"adstream/internal/models"
	"adstream/shared/config"
)

// ErrCorruptSchedule marks a cached blob that no longer decodes
var ErrCorruptSchedule = errors.New("corrupt cached schedule")

// ScheduleCache stores generated schedules per (video, persona) pair.
// The key prefix is the schema version: bumping it orphans old blobs.
type ScheduleCache struct {
	kv     KV
	prefix string
}

func NewScheduleCache(kv KV, prefix string) *ScheduleCache {
	if prefix == "" {
		prefix = config.DefaultCachePrefix
	}
	return &ScheduleCache{kv: kv, prefix: prefix}
}

// keyEscaper keeps the "_" between video and persona unambiguous
var keyEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// Key derives the cache key for a video and persona
func (c *ScheduleCache) Key(videoName, personaName string) string {
	return fmt.Sprintf("%s%s_%s", c.prefix, keyEscaper.Replace(videoName), keyEscaper.Replace(personaName))
}

// Load returns the cached schedule and whether it was a hit. Every load
// returns fresh, unplayed slots.
func (c *ScheduleCache) Load(ctx context.Context, videoName, personaName string) ([]*models.AdSlot, bool, error) {
	key := c.Key(videoName, personaName)
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached schedule %s: %w", key, err)
	}

	var slots []*models.AdSlot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, false, fmt.Errorf("%w %s: %v", ErrCorruptSchedule, key, err)
	}

	return models.CloneSchedule(slots), true, nil
}

// Store replaces the cached schedule for the pair
func (c *ScheduleCache) Store(ctx context.Context, videoName, personaName string, slots []*models.AdSlot) error {
	if slots == nil {
		slots = []*models.AdSlot{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	key := c.Key(videoName, personaName)
	if err := c.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write cached schedule %s: %w", key, err)
	}
	return nil
}

// Invalidate drops the cached schedule for the pair
func (c *ScheduleCache) Invalidate(ctx context.Context, videoName, personaName string) error {
	return c.kv.Delete(ctx, c.Key(videoName, personaName))
}
