package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/sewaghar/internal/models"
)

// ErrRouteUnavailable indicates the routing service failed or returned no
// route. Callers either surface it or fall back to StraightLine.
var ErrRouteUnavailable = errors.New("route unavailable")

const defaultEndpoint = "https://api.openrouteservice.org"

// Client estimates driving routes against an OpenRouteService-compatible
// directions API. Without an API key every estimate degrades to a straight
// two-point line; with one, each call is exactly one network round trip, no
// retries and no caching.
type Client struct {
	Endpoint string
	APIKey   string
	Profile  string
	HTTP     *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		Endpoint: defaultEndpoint,
		APIKey:   apiKey,
		Profile:  "driving-car",
		HTTP:     &http.Client{Timeout: 5 * time.Second},
	}
}

// EstimateRoute returns a path from `from` to `to` with the service-reported
// duration (seconds) and distance (meters).
func (c *Client) EstimateRoute(ctx context.Context, from, to models.Coord) (*models.RouteInfo, error) {
	if c.APIKey == "" {
		return StraightLine(from, to), nil
	}

	// ORS expects lon,lat ordering in the query.
	q := url.Values{}
	q.Set("api_key", c.APIKey)
	q.Set("start", fmt.Sprintf("%.6f,%.6f", from.Lon, from.Lat))
	q.Set("end", fmt.Sprintf("%.6f,%.6f", to.Lon, to.Lat))
	reqURL := fmt.Sprintf("%s/v2/directions/%s?%s", c.Endpoint, c.Profile, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRouteUnavailable, resp.StatusCode)
	}

	var out struct {
		Features []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties struct {
				Summary struct {
					Distance float64 `json:"distance"`
					Duration float64 `json:"duration"`
				} `json:"summary"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrRouteUnavailable, err)
	}
	if len(out.Features) == 0 {
		return nil, fmt.Errorf("%w: no route found", ErrRouteUnavailable)
	}

	feat := out.Features[0]
	points := make([]models.Coord, 0, len(feat.Geometry.Coordinates))
	for _, c := range feat.Geometry.Coordinates {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: malformed coordinate", ErrRouteUnavailable)
		}
		// GeoJSON coordinates are [lon, lat].
		points = append(points, models.Coord{Lat: c[1], Lon: c[0]})
	}
	return &models.RouteInfo{
		Points:          points,
		DurationSeconds: feat.Properties.Summary.Duration,
		DistanceMeters:  feat.Properties.Summary.Distance,
	}, nil
}

// StraightLine is the explicit no-key fallback: a two-point route with zero
// duration and distance.
func StraightLine(from, to models.Coord) *models.RouteInfo {
	return &models.RouteInfo{Points: []models.Coord{from, to}}
}
