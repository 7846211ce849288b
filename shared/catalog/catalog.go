package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"adstream/internal/models"
	"adstream/shared/config"
	"adstream/shared/logging"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog is the fixed set of video ads the generator may choose from
type Catalog struct {
	ads  []models.CatalogAd
	byID map[string]int
}

// Default returns the built-in demo catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, or the built-in catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML (or JSON) list of catalog ads
func Parse(data []byte) (*Catalog, error) {
	var ads []models.CatalogAd
	if err := yaml.Unmarshal(data, &ads); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(ads)
}

func New(ads []models.CatalogAd) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(ads))}
	for _, ad := range ads {
		if ad.ID == "" {
			return nil, fmt.Errorf("catalog ad %q has no id", ad.Title)
		}
		if ad.YouTubeID == "" {
			return nil, fmt.Errorf("catalog ad %s has no youtube_id", ad.ID)
		}
		if _, dup := c.byID[ad.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog ad id %s", ad.ID)
		}
		c.byID[ad.ID] = len(c.ads)
		c.ads = append(c.ads, ad)
	}
	return c, nil
}

func (c *Catalog) Lookup(id string) (models.CatalogAd, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.CatalogAd{}, false
	}
	return c.ads[i], true
}

// All returns a copy of the catalog in file order
func (c *Catalog) All() []models.CatalogAd {
	out := make([]models.CatalogAd, len(c.ads))
	copy(out, c.ads)
	return out
}

func (c *Catalog) Len() int {
	return len(c.ads)
}

// Resolve turns an ad id into a catalog creative
func (c *Catalog) Resolve(id string) (models.Creative, bool) {
	ad, ok := c.Lookup(id)
	if !ok {
		return models.Creative{}, false
	}
	return models.Creative{
		Kind:      models.CreativeCatalog,
		AdID:      ad.ID,
		YouTubeID: ad.YouTubeID,
		Brand:     ad.Brand,
		Title:     ad.Title,
	}, true
}

// Verify drops ads whose video is unavailable or not embeddable and records
// durations for the rest. The catalog is left untouched when the lookup fails.
func (c *Catalog) Verify(ctx context.Context, lookup VideoLookup, logger *zap.Logger) (*Catalog, error) {
	ids := make([]string, 0, len(c.ads))
	for _, ad := range c.ads {
		ids = append(ids, ad.YouTubeID)
	}

	durations, err := lookup.VideoDurations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to verify catalog: %w", err)
	}

	var kept []models.CatalogAd
	for _, ad := range c.ads {
		seconds, ok := durations[ad.YouTubeID]
		if !ok {
			if logger != nil {
				logger.Warn("dropping unavailable catalog ad", zap.String("ad_id", ad.ID), zap.String("youtube_id", ad.YouTubeID))
			}
			continue
		}
		ad.DurationSeconds = seconds
		kept = append(kept, ad)
	}

	return New(kept)
}

// FromConfig loads the configured catalog and, when enabled, verifies it
// against YouTube. A failed verification keeps the unverified catalog.
func FromConfig(ctx context.Context, cfg config.CatalogConfig, logger *zap.Logger) (*Catalog, error) {
	logger = logging.OrNop(logger)

	c, err := Load(cfg.File)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", zap.Int("ads", c.Len()), zap.String("file", cfg.File))

	if !cfg.VerifyWithYouTube {
		return c, nil
	}

	lookup, err := NewYouTubeLookup(ctx, cfg.YouTubeAPIKey)
	if err != nil {
		return nil, err
	}
	verified, err := c.Verify(ctx, lookup, logger)
	if err != nil {
		logger.Warn("catalog verification failed, using unverified catalog", zap.Error(err))
		return c, nil
	}
	logger.Info("catalog verified", zap.Int("ads", verified.Len()))
	return verified, nil
}
