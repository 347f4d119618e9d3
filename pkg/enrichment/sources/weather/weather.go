// Package weather polls current conditions for the home's coordinates.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	shared "github.com/homepulse/server/pkg"
	httputil "github.com/homepulse/server/pkg/infrastructure/http"
)

const defaultEndpoint = "https://api.openweathermap.org/data/2.5/weather"

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
	return &Fetcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		lat:      lat,
		lon:      lon,
		client:   http.DefaultClient,
	}
}

func (f *Fetcher) Name() string { return shared.SourceWeather }

type response struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

func (f *Fetcher) Fetch(ctx context.Context) (map[string]any, error) {
	q := url.Values{
		"lat":   {fmt.Sprintf("%.6f", f.lat)},
		"lon":   {fmt.Sprintf("%.6f", f.lon)},
		"appid": {f.apiKey},
		"units": {"metric"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	values := map[string]any{
		"temperature_c":   body.Main.Temp,
		"humidity_pct":    body.Main.Humidity,
		"pressure_hpa":    body.Main.Pressure,
		"wind_speed_ms":   body.Wind.Speed,
		"wind_direction":  body.Wind.Deg,
		"cloud_cover_pct": body.Clouds.All,
	}
	if len(body.Weather) > 0 {
		values["condition"] = body.Weather[0].Main
	}
	return values, nil
}
