package ml

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/san-kum/damage-watch/server/models"
	"github.com/san-kum/damage-watch/server/render"
)

const maxResponseSize = 8 * 1024 * 1024

type Detector interface {
	Detect(ctx context.Context, jpegData []byte) ([]models.Detection, error)
}

type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
}

type ClientConfig struct {
	// Timeout of zero leaves requests unbounded.
	Timeout   time.Duration
	UserAgent string
}

type DetectionRequest struct {
	Image string `json:"image"`
}

func NewClient(endpoint, apiKey string, config *ClientConfig, logger *zap.Logger) (*Client, error) {
	if config == nil {
		config = &ClientConfig{}
	}
	if config.UserAgent == "" {
		config.UserAgent = "damage-watch/1.0"
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid detection endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid detection endpoint %q: scheme must be http or https", endpoint)
	}

	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger,
		config:   config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// Detect sends one frame to the detection endpoint and returns its
// detections.
func (c *Client) Detect(ctx context.Context, jpegData []byte) ([]models.Detection, error) {
	requestData, err := json.Marshal(&DetectionRequest{Image: render.DataURL(jpegData)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", c.config.UserAgent)
	if c.apiKey != "" {
		httpRequest.Header.Set("Authorization", c.apiKey)
	}

	start := time.Now()
	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("detection service error (status %d): %s",
			response.StatusCode, string(body))
	}

	detections, err := models.ParsePredictions(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("Detection request completed",
		zap.Int("detections", len(detections)),
		zap.Int("payload_bytes", len(requestData)),
		zap.Duration("latency", time.Since(start)))

	return detections, nil
}
