package cachewarmer

import (
	"context"
	"fmt"
	"time"

	"adstream/internal/models"
	"adstream/shared/acquisition"
	"adstream/shared/ai"
	"adstream/shared/catalog"
	"adstream/shared/config"
	"adstream/shared/email"
	"adstream/shared/logging"
	"adstream/shared/scheduler"
	"adstream/shared/storage"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// WarmMetrics represents the metrics collected during one warm-up run
type WarmMetrics struct {
	Pairs     int  `json:"pairs"`
	Generated int  `json:"generated"`
	Hits      int  `json:"hits"`
	Failed    int  `json:"failed"`
	EmailSent bool `json:"email_sent"`
}

// GetSummary implements the scheduler.Metrics interface
func (m WarmMetrics) GetSummary() string {
	return fmt.Sprintf("warmed %d pairs: %d generated, %d cached, %d failed", m.Pairs, m.Generated, m.Hits, m.Failed)
}

type scheduleSource interface {
	Acquire(ctx context.Context, video models.Video, persona models.Persona) (*acquisition.Result, error)
}

type reportSender interface {
	SendReport(report *models.WarmReport) error
}

// CacheWarmerAgent pre-computes ad schedules for every configured
// (video, persona) pair so viewers get cache hits. It implements scheduler.Agent.
type CacheWarmerAgent struct {
	config      *config.Config
	logger      *zap.Logger
	clock       clockwork.Clock
	kv          storage.KV
	source      scheduleSource
	emailSender reportSender
}

func NewCacheWarmerAgent(cfg *config.Config, logger *zap.Logger) *CacheWarmerAgent {
	logger = logging.OrNop(logger)
	return &CacheWarmerAgent{
		config: cfg,
		logger: logger,
		clock:  clockwork.NewRealClock(),
	}
}

func (c *CacheWarmerAgent) Name() string {
	return "Cache Warmer"
}

func (c *CacheWarmerAgent) Initialize(ctx context.Context) error {
	c.logger.Info("initializing agent", zap.String("agent", c.Name()))

	if c.source == nil {
		cat, err := catalog.FromConfig(ctx, c.config.Catalog, c.logger)
		if err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}

		kv, err := storage.Open(ctx, c.config.Storage, c.logger)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		c.kv = kv

		cache := storage.NewScheduleCache(kv, c.config.Storage.CachePrefix)
		generator := ai.NewGenerator(c.config.AI, cat, c.logger)
		// The warmer always uses the configured key, never a viewer-saved one
		c.source = acquisition.NewSource(c.config, cache, nil, generator, cat, c.logger)
		c.logger.Info("schedule source initialized", zap.String("mode", c.config.Acquisition.Mode))
	}

	if c.emailSender == nil && c.config.CacheWarmer.SendReport {
		c.emailSender = email.NewSender(&c.config.Email)
		c.logger.Info("email sender initialized")
	}

	return nil
}

// Close releases the storage backend
func (c *CacheWarmerAgent) Close() error {
	if c.kv == nil {
		return nil
	}
	return c.kv.Close()
}

func (c *CacheWarmerAgent) RunOnce(ctx context.Context, events *scheduler.AgentEvents) error {
	startTime := time.Now()
	metrics := WarmMetrics{}
	report := &models.WarmReport{
		RunID: uuid.NewString(),
		Date:  startTime,
	}
	log := c.logger.With(zap.String("run_id", report.RunID))

	videos := c.config.CacheWarmer.Videos
	personas := c.config.CacheWarmer.Personas
	total := len(videos) * len(personas)
	delay := time.Duration(c.config.CacheWarmer.DelaySeconds) * time.Second

	log.Info("warming schedules", zap.Int("videos", len(videos)), zap.Int("personas", len(personas)))

	for _, path := range videos {
		video := models.NewVideo(path)
		for _, persona := range personas {
			pairStart := time.Now()
			result := &models.WarmResult{Video: video.Name, Persona: persona.Name}
			report.Results = append(report.Results, result)
			metrics.Pairs++

			res, err := c.source.Acquire(ctx, video, persona)
			result.Duration = time.Since(pairStart).Round(time.Millisecond).String()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				result.Error = err.Error()
				metrics.Failed++
				log.Warn("failed to warm schedule",
					zap.String("video", video.Name),
					zap.String("persona", persona.Name),
					zap.Error(err))
				if events != nil && events.OnPartialFailure != nil {
					events.OnPartialFailure(fmt.Errorf("%s/%s: %w", video.Name, persona.Name, err), time.Since(startTime))
				}
				if metrics.Failed > total/2 {
					return fmt.Errorf("too many warm-up failures (%d/%d), stopping", metrics.Failed, metrics.Pairs)
				}
				continue
			}

			result.Slots = len(res.Slots)
			result.Cached = res.Cached
			if res.Cached {
				metrics.Hits++
				continue
			}
			metrics.Generated++

			// Space out remote generations
			if delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-c.clock.After(delay):
				}
			}
		}
	}

	report.Generated = metrics.Generated
	report.Hits = metrics.Hits
	report.Failed = metrics.Failed

	if c.emailSender != nil {
		if err := c.emailSender.SendReport(report); err != nil {
			if events != nil && events.OnPartialFailure != nil {
				events.OnPartialFailure(fmt.Errorf("failed to send warm-up report: %w", err), time.Since(startTime))
			}
			log.Warn("failed to send warm-up report", zap.Error(err))
		} else {
			metrics.EmailSent = true
		}
	}

	duration := time.Since(startTime)
	if events != nil && events.OnSuccess != nil {
		events.OnSuccess(metrics, duration)
	}

	log.Info("warm-up complete",
		zap.Int("generated", metrics.Generated),
		zap.Int("cached", metrics.Hits),
		zap.Int("failed", metrics.Failed),
		zap.Bool("email_sent", metrics.EmailSent),
		zap.Duration("took", duration))

	return nil
}
