// Package airquality polls outdoor air quality for the home's coordinates.
package airquality

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	shared "github.com/homepulse/server/pkg"
	httputil "github.com/homepulse/server/pkg/infrastructure/http"
)

const defaultEndpoint = "https://api.openweathermap.org/data/2.5/air_pollution"

type Fetcher struct {
	endpoint string
	apiKey   string
	lat, lon float64
	client   *http.Client
}

func New(endpoint, apiKey string, lat, lon float64) *Fetcher {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Fetcher{endpoint: endpoint, apiKey: apiKey, lat: lat, lon: lon, client: http.DefaultClient}
}

func (f *Fetcher) Name() string { return shared.SourceAirQuality }

type response struct {
	List []struct {
		Main struct {
			AQI float64 `json:"aqi"`
		} `json:"main"`
		Components map[string]float64 `json:"components"`
	} `json:"list"`
}

func (f *Fetcher) Fetch(ctx context.Context) (map[string]any, error) {
	q := url.Values{
		"lat":   {fmt.Sprintf("%.6f", f.lat)},
		"lon":   {fmt.Sprintf("%.6f", f.lon)},
		"appid": {f.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("air quality request: %w", err)
	}
	defer resp.Body.Close()
	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, fmt.Errorf("air quality request: %w", err)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode air quality response: %w", err)
	}
	if len(body.List) == 0 {
		return nil, fmt.Errorf("air quality response has no data")
	}

	entry := body.List[0]
	values := map[string]any{"aqi": entry.Main.AQI}
	for _, k := range []string{"pm2_5", "pm10", "o3", "no2"} {
		if v, ok := entry.Components[k]; ok {
			values[k] = v
		}
	}
	return values, nil
}
