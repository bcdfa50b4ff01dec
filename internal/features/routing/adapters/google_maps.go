package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/core/httpclient"
	"handoff-coordinator/internal/features/routing/domain"
	"handoff-coordinator/internal/features/routing/ports"
)

// GoogleMapsConfig holds the Google Maps Platform settings.
type GoogleMapsConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// GoogleMaps implements ports.DirectionsProvider and ports.Geocoder against
// the Google Directions and Geocoding JSON APIs.
type GoogleMaps struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewGoogleMaps creates a new GoogleMaps adapter.
func NewGoogleMaps(cfg GoogleMapsConfig) *GoogleMaps {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://maps.googleapis.com/maps/api"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleMaps{
		apiKey:      cfg.APIKey,
		baseURL:     base,
		client:      httpclient.NewClient(timeout),
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
	}
}

type directionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		WaypointOrder []int `json:"waypoint_order"`
		Legs          []struct {
			Distance     valueField `json:"distance"`
			Duration     valueField `json:"duration"`
			StartAddress string     `json:"start_address"`
			EndAddress   string     `json:"end_address"`
		} `json:"legs"`
	} `json:"routes"`
}

type valueField struct {
	Value float64 `json:"value"`
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Directions implements ports.DirectionsProvider.
func (g *GoogleMaps) Directions(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
	q := url.Values{}
	q.Set("origin", req.Origin.String())
	q.Set("destination", req.Destination.String())
	q.Set("mode", string(req.Mode))
	if len(req.Waypoints) > 0 {
		parts := make([]string, 0, len(req.Waypoints)+1)
		if req.OptimizeWaypoints {
			parts = append(parts, "optimize:true")
		}
		for _, w := range req.Waypoints {
			parts = append(parts, w.String())
		}
		q.Set("waypoints", strings.Join(parts, "|"))
	}

	var body directionsResponse
	if err := g.getJSON(ctx, "/directions/json", q, &body); err != nil {
		return nil, err
	}
	if err := mapStatus(body.Status, body.ErrorMessage); err != nil {
		return nil, err
	}
	if len(body.Routes) == 0 {
		return nil, fmt.Errorf("%w: empty routes", domain.ErrProviderNoResult)
	}

	route := body.Routes[0]
	res := &ports.DirectionsResult{
		WaypointOrder: route.WaypointOrder,
		Legs:          make([]ports.DirectionsLeg, len(route.Legs)),
	}
	for i, l := range route.Legs {
		res.Legs[i] = ports.DirectionsLeg{
			DistanceMeters:  l.Distance.Value,
			DurationSeconds: l.Duration.Value,
			StartAddress:    l.StartAddress,
			EndAddress:      l.EndAddress,
		}
	}
	return res, nil
}

// Geocode implements ports.Geocoder.
func (g *GoogleMaps) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return geo.Coordinate{}, fmt.Errorf("%w: empty address", domain.ErrProviderNoResult)
	}

	q := url.Values{}
	q.Set("address", address)

	var body geocodeResponse
	if err := g.getJSON(ctx, "/geocode/json", q, &body); err != nil {
		return geo.Coordinate{}, err
	}
	if err := mapStatus(body.Status, body.ErrorMessage); err != nil {
		return geo.Coordinate{}, err
	}
	if len(body.Results) == 0 {
		return geo.Coordinate{}, fmt.Errorf("%w: no geocode results for %q", domain.ErrProviderNoResult, address)
	}

	loc := body.Results[0].Geometry.Location
	c := geo.Coordinate{Lat: loc.Lat, Lng: loc.Lng}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: provider returned %w", domain.ErrProviderNoResult, err)
	}
	return c, nil
}

// ReverseGeocode implements ports.Geocoder.
func (g *GoogleMaps) ReverseGeocode(ctx context.Context, c geo.Coordinate) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("latlng", c.String())

	var body geocodeResponse
	if err := g.getJSON(ctx, "/geocode/json", q, &body); err != nil {
		return "", err
	}
	if err := mapStatus(body.Status, body.ErrorMessage); err != nil {
		return "", err
	}
	if len(body.Results) == 0 || body.Results[0].FormattedAddress == "" {
		return "", fmt.Errorf("%w: no address for %s", domain.ErrProviderNoResult, c)
	}
	return body.Results[0].FormattedAddress, nil
}

// mapStatus translates a Google API status into the routing error taxonomy.
func mapStatus(status, message string) error {
	detail := status
	if message != "" {
		detail = status + ": " + message
	}
	switch status {
	case "OK":
		return nil
	case "ZERO_RESULTS", "NOT_FOUND", "INVALID_REQUEST", "MAX_WAYPOINTS_EXCEEDED", "MAX_ROUTE_LENGTH_EXCEEDED":
		return fmt.Errorf("%w: %s", domain.ErrProviderNoResult, detail)
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return fmt.Errorf("%w: %s", domain.ErrProviderQuotaExceeded, detail)
	case "REQUEST_DENIED":
		return fmt.Errorf("%w: %s", domain.ErrProviderDenied, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, detail)
	}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (g *GoogleMaps) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("key", g.apiKey)
	endpoint := g.baseURL + path + "?" + q.Encode()

	resp, err := g.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
	}
	return nil
}

func (g *GoogleMaps) do(req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries transient failures (network errors, 429 and 5xx
// responses) with exponential backoff while respecting ctx.
func (g *GoogleMaps) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := g.backoff
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := g.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}

		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}

		if !retry || attempt == g.maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
	}

	return nil, lastErr
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var he *httpStatusError
	if errors.As(err, &he) {
		switch {
		case he.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", domain.ErrProviderQuotaExceeded, err)
		case he.Code == http.StatusUnauthorized || he.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", domain.ErrProviderDenied, err)
		case he.Code >= 500:
			return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", domain.ErrProviderNoResult, err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}
