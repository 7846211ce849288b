package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"adstream/internal/models"
	"adstream/shared/config"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}

	ad, ok := c.Lookup("ad_001")
	if !ok {
		t.Fatal("ad_001 missing from default catalog")
	}
	if ad.Brand != "Apple" || ad.YouTubeID != "VtvjbmoDx-I" {
		t.Errorf("unexpected ad_001: %+v", ad)
	}

	if _, ok := c.Lookup("ad_008"); ok {
		t.Error("ad_008 is retired and should not be in the catalog")
	}
	if _, ok := c.Lookup("ad_999"); ok {
		t.Error("unexpected ad_999")
	}
}

func TestResolve(t *testing.T) {
	c, _ := Default()

	creative, ok := c.Resolve("ad_007")
	if !ok {
		t.Fatal("Resolve(ad_007) failed")
	}
	if creative.Kind != models.CreativeCatalog || creative.YouTubeID != "lSggaxXUS8k" || creative.Brand != "Nike" {
		t.Errorf("unexpected creative: %+v", creative)
	}

	if _, ok := c.Resolve("ad_999"); ok {
		t.Error("Resolve(ad_999) should fail")
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		ads  []models.CatalogAd
	}{
		{"Missing id", []models.CatalogAd{{YouTubeID: "x"}}},
		{"Missing youtube id", []models.CatalogAd{{ID: "ad_1"}}},
		{"Duplicate id", []models.CatalogAd{{ID: "ad_1", YouTubeID: "x"}, {ID: "ad_1", YouTubeID: "y"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.ads); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	content := `[{"id":"ad_100","title":"T","brand":"B","youtube_id":"yt100","tags":["x"]}]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

type fakeLookup struct {
	durations map[string]int
	err       error
}

func (f *fakeLookup) VideoDurations(ctx context.Context, ids []string) (map[string]int, error) {
	return f.durations, f.err
}

func TestVerify(t *testing.T) {
	c, _ := Default()

	verified, err := c.Verify(context.Background(), &fakeLookup{durations: map[string]int{
		"VtvjbmoDx-I": 60,
		"lSggaxXUS8k": 180,
	}}, nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if verified.Len() != 2 {
		t.Errorf("Len() = %d, want 2", verified.Len())
	}
	if ad, _ := verified.Lookup("ad_001"); ad.DurationSeconds != 60 {
		t.Errorf("ad_001 duration = %d, want 60", ad.DurationSeconds)
	}
	if c.Len() != 5 {
		t.Error("Verify must not modify the original catalog")
	}

	if _, err := c.Verify(context.Background(), &fakeLookup{err: errors.New("quota")}, nil); err == nil {
		t.Error("expected lookup error to propagate")
	}
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(context.Background(), config.CatalogConfig{}, nil)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if c.Len() != 5 {
		t.Errorf("Len() = %d, want the 5 built-in ads", c.Len())
	}

	if _, err := FromConfig(context.Background(), config.CatalogConfig{File: filepath.Join(t.TempDir(), "nope.yaml")}, nil); err == nil {
		t.Error("expected error for a missing catalog file")
	}
}
