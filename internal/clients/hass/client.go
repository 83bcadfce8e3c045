// Package hass is the directory provider: a REST client for the home
// hub's floor/area/entity registries and its authoritative area→entity
// membership mapping.
package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/platform/envutil"
	"github.com/voxhome/voxhome-backend/internal/platform/httpx"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
)

type Client struct {
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
	token      string
	maxRetries int
}

type hassHTTPError struct {
	StatusCode int
	Body       string
}

func (e *hassHTTPError) Error() string {
	return fmt.Sprintf("hass http %d: %s", e.StatusCode, e.Body)
}

func (e *hassHTTPError) HTTPStatusCode() int { return e.StatusCode }

func New(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := envutil.String("HASS_BASE_URL", "")
	if baseURL == "" {
		return nil, fmt.Errorf("missing HASS_BASE_URL")
	}
	token := envutil.String("HASS_TOKEN", "")
	if token == "" {
		return nil, fmt.Errorf("missing HASS_TOKEN")
	}
	return &Client{
		log:        log.With("service", "HassClient"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		maxRetries: envutil.Int("HASS_MAX_RETRIES", 3),
	}, nil
}

func (c *Client) ListFloors(ctx context.Context) ([]domain.FloorInfo, error) {
	var out []domain.FloorInfo
	if err := c.get(ctx, "/api/registry/floors", &out); err != nil {
		return nil, fmt.Errorf("list floors: %w", err)
	}
	return out, nil
}

func (c *Client) ListAreas(ctx context.Context) ([]domain.AreaInfo, error) {
	var out []domain.AreaInfo
	if err := c.get(ctx, "/api/registry/areas", &out); err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	return out, nil
}

func (c *Client) ListEntities(ctx context.Context) ([]domain.EntityLocationInfo, error) {
	var out []domain.EntityLocationInfo
	if err := c.get(ctx, "/api/registry/entities", &out); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return out, nil
}

// AreaMemberships returns the authoritative area→entity-ID mapping. The
// hub derives it from device inheritance, so it wins over the raw
// per-entity area assignment.
func (c *Client) AreaMemberships(ctx context.Context) (map[string][]string, error) {
	var out map[string][]string
	if err := c.get(ctx, "/api/registry/area_memberships", &out); err != nil {
		return nil, fmt.Errorf("area memberships: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.getOnce(ctx, path)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("hass decode error: %w", uErr)
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("hub request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *Client) getOnce(ctx context.Context, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &hassHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
