package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"adstream/internal/models"
	"adstream/shared/catalog"
	"adstream/shared/config"
	"adstream/shared/logging"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

var (
	// ErrProcessingFailed means the uploaded video reached the FAILED state
	ErrProcessingFailed = errors.New("remote video processing failed")
	// ErrProcessingTimeout means the upload never became ACTIVE within the poll budget
	ErrProcessingTimeout = errors.New("remote video processing timed out")
	// ErrMalformedResponse means the model reply held no usable placement JSON
	ErrMalformedResponse = errors.New("malformed generation response")
)

// FileService is the part of the Gemini Files API used for uploads
type FileService interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// ContentGenerator is the part of the Gemini Models API used for generation
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini bundles the two services so tests can substitute either
type Gemini struct {
	Files  FileService
	Models ContentGenerator
}

// ClientFactory builds a Gemini client for a credential. The credential may
// change at runtime when the viewer saves a new key.
type ClientFactory func(ctx context.Context, apiKey string) (*Gemini, error)

// NewGeminiClient is the production ClientFactory
func NewGeminiClient(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{Files: client.Files, Models: client.Models}, nil
}

// Placement is one ad slot as proposed by the model, before catalog validation
type Placement struct {
	TimestampSeconds float64 `json:"timestamp_seconds"`
	DurationSeconds  float64 `json:"duration_seconds"`
	AdID             string  `json:"ad_id"`
	Brand            string  `json:"brand"`
	Title            string  `json:"title"`
	Copy             string  `json:"copy"`
	CTAURL           string  `json:"cta_url"`
	ImagePrompt      string  `json:"image_prompt"`
	Reason           string  `json:"reason"`
}

// Request describes one schedule generation
type Request struct {
	Video   models.Video
	Content io.Reader
	Persona models.Persona
	APIKey  string
	Model   string
	Mode    string
}

// Generator asks Gemini where to place ads in a video for a persona
type Generator struct {
	newClient    ClientFactory
	catalog      *catalog.Catalog
	defaultModel string
	pollInterval time.Duration
	pollTimeout  time.Duration
	maxAttempts  int
	clock        clockwork.Clock
	logger       *zap.Logger
}

func NewGenerator(cfg config.AIConfig, cat *catalog.Catalog, logger *zap.Logger) *Generator {
	logger = logging.OrNop(logger)
	return &Generator{
		newClient:    NewGeminiClient,
		catalog:      cat,
		defaultModel: cfg.Model,
		pollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		pollTimeout:  time.Duration(cfg.PollTimeoutSeconds) * time.Second,
		maxAttempts:  cfg.PollMaxAttempts,
		clock:        clockwork.NewRealClock(),
		logger:       logger,
	}
}

// Generate runs upload, poll and generate, returning the raw placements.
func (g *Generator) Generate(ctx context.Context, req Request) ([]Placement, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("video content is required")
	}
	if req.Persona.IsZero() {
		return nil, fmt.Errorf("persona is required")
	}

	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	client, err := g.newClient(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	log := g.logger.With(zap.String("video", req.Video.Name), zap.String("persona", req.Persona.Name), zap.String("model", model))

	// Step 1: upload
	log.Info("uploading video for analysis")
	file, err := client.Files.Upload(ctx, req.Content, &genai.UploadFileConfig{
		MIMEType:    req.Video.MIMEType(),
		DisplayName: req.Video.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload video %s: %w", req.Video.Name, err)
	}
	defer g.deleteFile(ctx, client.Files, file.Name)

	// Step 2: wait until processed
	file, err = g.waitForActive(ctx, client.Files, file, log)
	if err != nil {
		return nil, err
	}

	// Step 3: generate
	prompt := g.buildPrompt(req.Persona, req.Mode)
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromURI(file.URI, file.MIMEType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate schedule for %s: %w", req.Video.Name, err)
	}

	responseText := result.Text()
	if responseText == "" {
		return nil, fmt.Errorf("%w: empty response for video %s", ErrMalformedResponse, req.Video.Name)
	}

	placements, err := g.parsePlacements(responseText)
	if err != nil {
		return nil, err
	}

	log.Info("schedule generated", zap.Int("placements", len(placements)))
	return placements, nil
}

func (g *Generator) waitForActive(ctx context.Context, files FileService, file *genai.File, log *zap.Logger) (*genai.File, error) {
	deadline := g.clock.Now().Add(g.pollTimeout)

	for attempt := 0; ; attempt++ {
		switch file.State {
		case genai.FileStateActive:
			log.Info("video processed", zap.Int("polls", attempt))
			return file, nil
		case genai.FileStateFailed:
			return nil, fmt.Errorf("%w: file %s", ErrProcessingFailed, file.Name)
		}

		if attempt >= g.maxAttempts || !g.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: file %s still %s after %d polls", ErrProcessingTimeout, file.Name, file.State, attempt)
		}

		log.Debug("waiting for video processing", zap.String("state", string(file.State)), zap.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-g.clock.After(g.pollInterval):
		}

		next, err := files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll file %s: %w", file.Name, err)
		}
		file = next
	}
}

func (g *Generator) deleteFile(ctx context.Context, files FileService, name string) {
	if name == "" {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := files.Delete(cleanupCtx, name, nil); err != nil {
		g.logger.Warn("failed to delete uploaded video", zap.String("file", name), zap.Error(err))
	}
}

func (g *Generator) buildPrompt(p models.Persona, mode string) string {
	var task, format string

	if mode == config.ModeGenerative {
		task = `Invent brand advertisements that would appeal to this viewer. For each ad provide the brand name,
a short title, one or two sentences of ad copy, a call-to-action URL and a prompt for generating the ad image.`
		format = `[
  {
    "timestamp_seconds": number,
    "duration_seconds": number (5-10),
    "brand": "Brand name",
    "title": "Ad title",
    "copy": "Ad copy",
    "cta_url": "https://...",
    "image_prompt": "Image generation prompt",
    "reason": "Why this ad fits this moment and viewer"
  }
]`
	} else {
		var lines []string
		if g.catalog != nil {
			for _, ad := range g.catalog.All() {
				lines = append(lines, fmt.Sprintf("- %s: %s (%s) [%s] %s", ad.ID, ad.Title, ad.Brand, strings.Join(ad.Tags, ", "), ad.Description))
			}
		}
		task = "Choose ads ONLY from this catalog, using their exact ids:\n" + strings.Join(lines, "\n")
		format = `[
  {
    "timestamp_seconds": number,
    "duration_seconds": number,
    "ad_id": "catalog id",
    "reason": "Why this ad fits this moment and viewer"
  }
]`
	}

	return fmt.Sprintf(`You are an ad placement engine. Watch the video and pick natural break points
(scene changes, pauses, topic shifts) where an ad interruption would feel least disruptive.

VIEWER PERSONA:
Name: %s
Age: %s
Gender: %s
Interests: %s
Recent searches: %s
Mood: %s
Viewing pattern: %s

%s

Return between 1 and 4 placements, ordered by timestamp, inside a fenced json code block:
%s`,
		p.Name,
		valueOr(p.Age),
		stringOr(p.Gender),
		stringOr(strings.Join(p.Interests, ", ")),
		stringOr(strings.Join(p.Searches, ", ")),
		stringOr(p.Mood),
		stringOr(p.Pattern),
		task,
		"```json\n"+format+"\n```",
	)
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// extractJSON pulls the placement array out of free text: a fenced block when
// present, otherwise the outermost brackets.
func extractJSON(response string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(response); m != nil {
		body := strings.TrimSpace(m[1])
		if body != "" {
			return body, true
		}
	}

	startIdx := strings.Index(response, "[")
	endIdx := strings.LastIndex(response, "]")
	if startIdx == -1 || endIdx <= startIdx {
		return "", false
	}
	return response[startIdx : endIdx+1], true
}

func (g *Generator) parsePlacements(response string) ([]Placement, error) {
	jsonStr, ok := extractJSON(response)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON found in response: %s", ErrMalformedResponse, truncateString(response, 200))
	}

	var placements []Placement
	if err := json.Unmarshal([]byte(jsonStr), &placements); err != nil {
		sanitized := sanitizeJSON(jsonStr)
		if sanitizedErr := json.Unmarshal([]byte(sanitized), &placements); sanitizedErr != nil {
			return nil, fmt.Errorf("%w: %v (sanitized version also failed: %v)", ErrMalformedResponse, err, sanitizedErr)
		}
		g.logger.Warn("had to sanitize malformed JSON from model")
	}

	return placements, nil
}

// sanitizeJSON escapes stray quotes inside string values, a common defect in
// model-written JSON.
func sanitizeJSON(jsonStr string) string {
	lines := strings.Split(jsonStr, "\n")
	var sanitizedLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.Contains(line, ":") && strings.Contains(line, "\"") {
			colonIdx := strings.Index(line, "\":")
			if colonIdx != -1 {
				beforeColon := line[:colonIdx+2]
				afterColon := strings.TrimSpace(line[colonIdx+2:])

				if strings.HasPrefix(afterColon, "\"") {
					lastQuoteIdx := strings.LastIndex(afterColon, "\"")
					if lastQuoteIdx > 0 {
						stringContent := afterColon[1:lastQuoteIdx]
						stringContent = strings.ReplaceAll(stringContent, "\\\"", "\"")
						stringContent = strings.ReplaceAll(stringContent, "\"", "\\\"")
						remainder := afterColon[lastQuoteIdx+1:]
						line = beforeColon + " \"" + stringContent + "\"" + remainder
					}
				}
			}
		}

		sanitizedLines = append(sanitizedLines, line)
	}

	return strings.Join(sanitizedLines, "\n")
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + "..."
}

func stringOr(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func valueOr(n int) string {
	if n <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", n)
}
