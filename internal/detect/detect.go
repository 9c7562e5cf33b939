// Package detect calls a vision model to locate question regions on scanned
// exam pages. Detections come back in the normalized 0-1000 coordinate
// space with the "continuation" sentinel for fragments that belong to the
// previous question.
package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	xdraw "golang.org/x/image/draw"

	"github.com/examsnip/examsnip/internal/questions"
)

const detectPrompt = `You are given a scanned exam page. Locate every question on the page.

Return ONLY a JSON array. Each element is {"id": "...", "boxes": [ymin, xmin, ymax, xmax]} where coordinates are integers in a 0-1000 space relative to the page. Use the question's printed number as id. If a region continues a question that started on a previous page (no question number of its own), use the id "continuation". A detection spanning disjoint regions may use "boxes": [[ymin,xmin,ymax,xmax], ...]. Order detections top to bottom as they appear on the page.`

// Config configures a detector client.
type Config struct {
	BaseURL    string // OpenAI-compatible endpoint (default: api.openai.com)
	Model      string
	APIKey     string
	MaxRetries uint    // Retry attempts per page (default 3)
	MaxEdge    int     // Downscale pages whose longest edge exceeds this (0 = never)
	RateLimit  float64 // Requests per second (0 = unlimited)
	Logger     *slog.Logger
}

// Client calls the vision model and parses its detections.
type Client struct {
	api      openai.Client
	model    string
	maxEdge  int
	attempts uint
	logger   *slog.Logger

	// Simple pacing between requests.
	minInterval time.Duration
	mu          sync.Mutex
	lastCall    time.Time
}

// New creates a detector client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	attempts := cfg.MaxRetries
	if attempts == 0 {
		attempts = 3
	}

	var minInterval time.Duration
	if cfg.RateLimit > 0 {
		minInterval = time.Duration(float64(time.Second) / cfg.RateLimit)
	}

	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		maxEdge:     cfg.MaxEdge,
		attempts:    attempts,
		logger:      logger.With("component", "detect"),
		minInterval: minInterval,
	}
}

// DetectPage runs detection for one page. The page's encoded image is
// downscaled to the configured max edge before upload; coordinates are
// unaffected since the model works in the normalized space. The call is
// retried on transport errors; retry policy beyond that is the
// application's concern, not the pipeline's.
func (c *Client) DetectPage(ctx context.Context, page *questions.Page) ([]questions.Detection, error) {
	if len(page.Image) == 0 {
		return nil, fmt.Errorf("page %s/%d has no image", page.FileName, page.PageNumber)
	}

	upload, err := c.prepareUpload(page.Image)
	if err != nil {
		return nil, err
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(upload)

	var raw string
	err = retry.Do(
		func() error {
			c.pace(ctx)
			resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model: openai.ChatModel(c.model),
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart(detectPrompt),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL: dataURL,
						}),
					}),
				},
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("empty response")
			}
			raw = resp.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("detection failed for %s/%d: %w", page.FileName, page.PageNumber, err)
	}

	dets, skipped, err := ParseDetections(raw)
	if err != nil {
		return nil, fmt.Errorf("detection parse failed for %s/%d: %w", page.FileName, page.PageNumber, err)
	}
	if skipped > 0 {
		c.logger.Warn("skipped malformed detections",
			"file", page.FileName, "page", page.PageNumber, "skipped", skipped)
	}
	return dets, nil
}

// pace enforces the minimum interval between model calls.
func (c *Client) pace(ctx context.Context) {
	if c.minInterval == 0 {
		return
	}
	c.mu.Lock()
	wait := c.minInterval - time.Since(c.lastCall)
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// prepareUpload downscales the page image when its longest edge exceeds
// the configured bound, re-encoding as PNG. Smaller images pass through
// untouched.
func (c *Client) prepareUpload(data []byte) ([]byte, error) {
	if c.maxEdge <= 0 {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	longest := cfg.Width
	if cfg.Height > longest {
		longest = cfg.Height
	}
	if longest <= c.maxEdge {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	scale := float64(c.maxEdge) / float64(longest)
	dst := image.NewRGBA(image.Rect(0, 0,
		int(float64(cfg.Width)*scale), int(float64(cfg.Height)*scale)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out, err := encodePNG(dst)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("downscaled page for detection",
		"from", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"to", fmt.Sprintf("%dx%d", dst.Bounds().Dx(), dst.Bounds().Dy()))
	return out, nil
}

// ParseDetections extracts and validates the model's detection array.
// Elements with malformed boxes are skipped (and counted), not fatal: one
// bad detection must not reject the page.
func ParseDetections(raw string) ([]questions.Detection, int, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, 0, fmt.Errorf("no JSON array in model response")
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, 0, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := detectionSchema.Validate(decoded); err != nil {
		return nil, 0, fmt.Errorf("detection payload rejected: %w", err)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &elements); err != nil {
		return nil, 0, fmt.Errorf("invalid JSON: %w", err)
	}

	var dets []questions.Detection
	skipped := 0
	for _, el := range elements {
		var d questions.Detection
		if err := json.Unmarshal(el, &d); err != nil {
			skipped++
			continue
		}
		if len(d.Boxes) == 0 {
			skipped++
			continue
		}
		dets = append(dets, d)
	}
	return dets, skipped, nil
}

// extractJSON pulls the outermost JSON array out of a response that may be
// wrapped in markdown fences or prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if fenced := strings.Index(s, "```"); fenced >= 0 {
		s = s[fenced+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
