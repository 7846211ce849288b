package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"adstream/internal/models"
	"adstream/shared/ai"
	"adstream/shared/catalog"
	"adstream/shared/config"
	"adstream/shared/logging"
	"adstream/shared/storage"

	"go.uber.org/zap"
)

// ErrMissingCredential blocks remote generation until the viewer supplies a key
var ErrMissingCredential = errors.New("Gemini API key is not configured")

// Generator produces raw placements for a video and persona
type Generator interface {
	Generate(ctx context.Context, req ai.Request) ([]ai.Placement, error)
}

// Result is one acquired schedule
type Result struct {
	Slots   []*models.AdSlot
	Cached  bool
	Dropped int
}

// Source yields schedules from the cache, generating and caching them on a miss
type Source struct {
	cache         *storage.ScheduleCache
	settings      *storage.Settings
	generator     Generator
	catalog       *catalog.Catalog
	mode          string
	defaultAPIKey string
	defaultModel  string
	openVideo     func(path string) (io.ReadCloser, error)
	logger        *zap.Logger
}

func NewSource(cfg *config.Config, cache *storage.ScheduleCache, settings *storage.Settings, gen Generator, cat *catalog.Catalog, logger *zap.Logger) *Source {
	logger = logging.OrNop(logger)
	return &Source{
		cache:         cache,
		settings:      settings,
		generator:     gen,
		catalog:       cat,
		mode:          cfg.Acquisition.Mode,
		defaultAPIKey: cfg.AI.GeminiAPIKey,
		defaultModel:  cfg.AI.Model,
		openVideo: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		logger: logger,
	}
}

// Acquire returns the schedule for the pair. A cache hit makes no remote call.
// Failures never return a partial schedule.
func (s *Source) Acquire(ctx context.Context, video models.Video, persona models.Persona) (*Result, error) {
	if video.IsZero() {
		return nil, fmt.Errorf("video is required")
	}
	if persona.IsZero() {
		return nil, fmt.Errorf("persona is required")
	}

	log := s.logger.With(zap.String("video", video.Name), zap.String("persona", persona.Name))

	slots, hit, err := s.cache.Load(ctx, video.Name, persona.Name)
	if err != nil {
		// A corrupt or unreachable cache entry falls through to generation
		log.Warn("cache lookup failed", zap.Error(err))
		if errors.Is(err, storage.ErrCorruptSchedule) {
			if err := s.cache.Invalidate(ctx, video.Name, persona.Name); err != nil {
				log.Warn("failed to drop corrupt cache entry", zap.Error(err))
			}
		}
	} else if hit {
		log.Info("schedule loaded from cache", zap.Int("slots", len(slots)))
		return &Result{Slots: slots, Cached: true}, nil
	}

	apiKey, model, err := s.credentials(ctx)
	if err != nil {
		return nil, err
	}

	f, err := s.openVideo(video.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", video.Path, err)
	}
	defer f.Close()

	start := time.Now()
	placements, err := s.generator.Generate(ctx, ai.Request{
		Video:   video,
		Content: f,
		Persona: persona,
		APIKey:  apiKey,
		Model:   model,
		Mode:    s.mode,
	})
	if err != nil {
		return nil, err
	}

	slots, dropped := s.BuildSchedule(placements, log)
	log.Info("schedule generated",
		zap.Int("slots", len(slots)),
		zap.Int("dropped", dropped),
		zap.Duration("took", time.Since(start)))

	if err := s.cache.Store(ctx, video.Name, persona.Name, slots); err != nil {
		log.Warn("failed to cache schedule", zap.Error(err))
	}

	return &Result{Slots: models.CloneSchedule(slots), Dropped: dropped}, nil
}

func (s *Source) credentials(ctx context.Context) (string, string, error) {
	apiKey, model := s.defaultAPIKey, s.defaultModel

	if s.settings != nil {
		stored, err := s.settings.APIKey(ctx)
		if err != nil {
			s.logger.Warn("failed to read stored API key", zap.Error(err))
		} else if stored != "" {
			apiKey = stored
		}
		if storedModel, err := s.settings.Model(ctx); err == nil && storedModel != "" {
			model = storedModel
		}
	}

	if apiKey == "" {
		return "", "", ErrMissingCredential
	}
	return apiKey, model, nil
}

// BuildSchedule validates placements into slots. Invalid entries, including
// references to ads missing from the catalog, are dropped one by one.
func (s *Source) BuildSchedule(placements []ai.Placement, log *zap.Logger) ([]*models.AdSlot, int) {
	if log == nil {
		log = s.logger
	}

	slots := make([]*models.AdSlot, 0, len(placements))
	dropped := 0

	for i, p := range placements {
		if math.IsNaN(p.TimestampSeconds) || math.IsInf(p.TimestampSeconds, 0) || p.TimestampSeconds < 0 {
			log.Warn("dropping placement with invalid timestamp", zap.Int("index", i), zap.Float64("timestamp", p.TimestampSeconds))
			dropped++
			continue
		}

		duration := p.DurationSeconds
		if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
			duration = 0
		}

		var creative models.Creative
		switch {
		case p.AdID != "":
			c, ok := s.catalog.Resolve(p.AdID)
			if !ok {
				log.Warn("dropping placement for unknown catalog ad", zap.Int("index", i), zap.String("ad_id", p.AdID))
				dropped++
				continue
			}
			creative = c
		case s.mode == config.ModeGenerative && (p.Brand != "" || p.Title != ""):
			creative = models.Creative{
				Kind:        models.CreativeInline,
				Brand:       p.Brand,
				Title:       p.Title,
				Copy:        p.Copy,
				CTAURL:      p.CTAURL,
				ImagePrompt: p.ImagePrompt,
			}
		default:
			log.Warn("dropping placement without a usable creative", zap.Int("index", i))
			dropped++
			continue
		}

		slots = append(slots, &models.AdSlot{
			TimestampSeconds: p.TimestampSeconds,
			DurationSeconds:  duration,
			Creative:         creative,
			Reason:           p.Reason,
		})
	}

	return slots, dropped
}
