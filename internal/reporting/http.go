package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"keytrace/internal/detector"
	"keytrace/internal/logging"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	BaseURL string
	// Secret signs an HS256 bearer token per request. Empty disables auth.
	Secret    string
	Issuer    string
	Hostname  string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// HTTPReporter posts KeyloggerLog records to {BaseURL}/Keylogger/add.
type HTTPReporter struct {
	config  HTTPConfig
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

func NewHTTPReporter(config HTTPConfig) (*HTTPReporter, error) {
	base := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("report base url is empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Issuer == "" {
		config.Issuer = "keytrace"
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &HTTPReporter{
		config:  config,
		url:     base + "/Keylogger/add",
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, config.Burst),
		logger:  logging.GetLogger(),
	}, nil
}

func (hr *HTTPReporter) GetName() string { return "http" }

func (hr *HTTPReporter) Report(ctx context.Context, result detector.DetectionResult) bool {
	fields := logrus.Fields{
		"pid": result.ProcessID,
		"url": hr.url,
	}
	if err := hr.send(ctx, result); err != nil {
		hr.logger.WithFields(fields).WithError(err).Error("Failed to send detection log")
		return false
	}
	hr.logger.WithFields(fields).Info("Sent detection log")
	return true
}

func (hr *HTTPReporter) send(ctx context.Context, result detector.DetectionResult) error {
	if err := hr.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(NewKeyloggerLog(result, hr.config.Hostname))
	if err != nil {
		return fmt.Errorf("failed to marshal detection log: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hr.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "keytrace/1.0")

	if hr.config.Secret != "" {
		token, err := hr.token(result)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hr.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (hr *HTTPReporter) token(result detector.DetectionResult) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    hr.config.Issuer,
		Subject:   hr.config.Hostname,
		ID:        result.RunID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(hr.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
