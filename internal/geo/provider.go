package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 4096

var ErrNoData = errors.New("geo: provider returned no location")

// Provider resolves one address. Implementations must honour ctx.
type Provider interface {
	Lookup(ctx context.Context, ip net.IP) (Location, error)
}

// HTTPProvider queries a JSON geolocation API. Endpoint may contain %s for the
// address; otherwise the address is appended as a path segment.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPProvider(endpoint, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProvider{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		client:   client,
	}
}

func (p *HTTPProvider) url(ip string) string {
	if strings.Contains(p.endpoint, "%s") {
		return fmt.Sprintf(p.endpoint, ip)
	}
	return strings.TrimRight(p.endpoint, "/") + "/" + ip
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip net.IP) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(ip.String()), nil)
	if err != nil {
		return Location{}, fmt.Errorf("geo: build request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo: request %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo: provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Location{}, fmt.Errorf("geo: read response: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Location{}, fmt.Errorf("geo: decode response: %w", err)
	}

	loc := Location{
		Country: firstString(payload, "country_name", "country", "countryCode", "country_code"),
		City:    firstString(payload, "city"),
	}
	if loc.IsZero() {
		return Location{}, ErrNoData
	}
	return loc, nil
}

func firstString(payload map[string]any, fields ...string) string {
	for _, field := range fields {
		if val, ok := payload[field].(string); ok {
			if val = strings.TrimSpace(val); val != "" {
				return val
			}
		}
	}
	return ""
}
