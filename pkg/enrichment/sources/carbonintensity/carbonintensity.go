// Package carbonintensity polls the grid carbon-intensity forecast.
package carbonintensity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	shared "github.com/homepulse/server/pkg"
	httputil "github.com/homepulse/server/pkg/infrastructure/http"
)

const defaultEndpoint = "https://api.carbonintensity.org.uk/intensity"

type Fetcher struct {
	endpoint string
	bearer   string
	client   *http.Client
}

func New(endpoint, bearer string) *Fetcher {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Fetcher{endpoint: endpoint, bearer: bearer, client: http.DefaultClient}
}

func (f *Fetcher) Name() string { return shared.SourceCarbonIntensity }

type response struct {
	Data []struct {
		Intensity struct {
			Forecast float64  `json:"forecast"`
			Actual   *float64 `json:"actual"`
			Index    string   `json:"index"`
		} `json:"intensity"`
	} `json:"data"`
}

func (f *Fetcher) Fetch(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+f.bearer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carbon intensity request: %w", err)
	}
	defer resp.Body.Close()
	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, fmt.Errorf("carbon intensity request: %w", err)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode carbon intensity response: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("carbon intensity response has no data")
	}

	entry := body.Data[0].Intensity
	values := map[string]any{
		"forecast_gco2_kwh": entry.Forecast,
		"index":             entry.Index,
	}
	if entry.Actual != nil {
		values["actual_gco2_kwh"] = *entry.Actual
	}
	return values, nil
}
