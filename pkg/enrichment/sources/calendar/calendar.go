// Package calendar polls the household calendar for upcoming events. Auth
// is an OAuth2 refresh token persisted by pkg/infrastructure/oauth; this
// is the only source with durable local state.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/homepulse/server/pkg"
	httputil "github.com/homepulse/server/pkg/infrastructure/http"
)

const defaultEndpoint = "https://www.googleapis.com/calendar/v3/calendars/primary/events"

type Fetcher struct {
	endpoint string
	source   oauth2.TokenSource
	client   *http.Client
	now      func() time.Time
}

func New(endpoint string, source oauth2.TokenSource) *Fetcher {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Fetcher{endpoint: endpoint, source: source, client: http.DefaultClient, now: time.Now}
}

func (f *Fetcher) Name() string { return shared.SourceCalendar }

type response struct {
	Items []struct {
		Summary string `json:"summary"`
		Start   struct {
			DateTime time.Time `json:"dateTime"`
		} `json:"start"`
		End struct {
			DateTime time.Time `json:"dateTime"`
		} `json:"end"`
	} `json:"items"`
}

func (f *Fetcher) Fetch(ctx context.Context) (map[string]any, error) {
	tok, err := f.source.Token()
	if err != nil {
		return nil, fmt.Errorf("calendar token: %w", err)
	}

	now := f.now()
	q := url.Values{
		"timeMin":      {now.UTC().Format(time.RFC3339)},
		"timeMax":      {now.Add(24 * time.Hour).UTC().Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {"10"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()
	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode calendar response: %w", err)
	}

	values := map[string]any{
		"events_next_24h": len(body.Items),
		"busy":            false,
	}
	for _, item := range body.Items {
		if item.Start.DateTime.IsZero() {
			continue // all-day events carry no dateTime
		}
		if !item.Start.DateTime.After(now) && item.End.DateTime.After(now) {
			values["busy"] = true
		}
		if item.Start.DateTime.After(now) {
			values["next_event_in_min"] = item.Start.DateTime.Sub(now).Minutes()
			break
		}
	}
	return values, nil
}
