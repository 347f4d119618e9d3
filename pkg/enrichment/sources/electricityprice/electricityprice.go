// Package electricityprice polls the spot market price for the current hour.
package electricityprice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	shared "github.com/homepulse/server/pkg"
	httputil "github.com/homepulse/server/pkg/infrastructure/http"
)

const defaultEndpoint = "https://api.awattar.de/v1/marketdata"

type Fetcher struct {
	endpoint string
	bearer   string // optional
	client   *http.Client
	now      func() time.Time
}

func New(endpoint, bearer string) *Fetcher {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Fetcher{endpoint: endpoint, bearer: bearer, client: http.DefaultClient, now: time.Now}
}

func (f *Fetcher) Name() string { return shared.SourceElectricityPrice }

type response struct {
	Data []struct {
		StartMillis int64   `json:"start_timestamp"`
		EndMillis   int64   `json:"end_timestamp"`
		Price       float64 `json:"marketprice"` // EUR/MWh
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
		return nil, fmt.Errorf("electricity price request: %w", err)
	}
	defer resp.Body.Close()
	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, fmt.Errorf("electricity price request: %w", err)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode electricity price response: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("electricity price response has no data")
	}

	// Pick the slot covering now; fall back to the first slot.
	nowMillis := f.now().UnixMilli()
	slot := body.Data[0]
	for _, d := range body.Data {
		if d.StartMillis <= nowMillis && nowMillis < d.EndMillis {
			slot = d
			break
		}
	}

	return map[string]any{
		"price_eur_kwh":   slot.Price / 1000,
		"slot_start_unix": slot.StartMillis / 1000,
	}, nil
}
