// Package smartmeter polls the local energy meter bridge on the LAN.
// Device auth varies per vendor; we send whatever token the device was
// configured with as X-Api-Key.
package smartmeter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	shared "github.com/homepulse/server/pkg"
	httputil "github.com/homepulse/server/pkg/infrastructure/http"
)

type Fetcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func New(endpoint, apiKey string) *Fetcher {
	return &Fetcher{endpoint: endpoint, apiKey: apiKey, client: http.DefaultClient}
}

func (f *Fetcher) Name() string { return shared.SourceSmartMeter }

type response struct {
	ActivePowerW   float64 `json:"active_power_w"`
	TotalImportKWh float64 `json:"total_power_import_kwh"`
	TotalExportKWh float64 `json:"total_power_export_kwh"`
	ActiveVoltageV float64 `json:"active_voltage_v"`
}

func (f *Fetcher) Fetch(ctx context.Context) (map[string]any, error) {
	if f.endpoint == "" {
		return nil, fmt.Errorf("smart meter endpoint not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.apiKey != "" {
		req.Header.Set("X-Api-Key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smart meter request: %w", err)
	}
	defer resp.Body.Close()
	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, fmt.Errorf("smart meter request: %w", err)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode smart meter response: %w", err)
	}

	return map[string]any{
		"active_power_w":   body.ActivePowerW,
		"total_import_kwh": body.TotalImportKWh,
		"total_export_kwh": body.TotalExportKWh,
		"voltage_v":        body.ActiveVoltageV,
	}, nil
}
