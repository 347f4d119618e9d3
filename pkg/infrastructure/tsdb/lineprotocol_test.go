package tsdb

import (
	"testing"
	"time"
)

func TestEncode(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 42, time.UTC)

	tests := []struct {
		name    string
		point   Point
		want    string
		wantErr bool
	}{
		{
			name: "tags sorted and mixed field types",
			point: Point{
				Measurement: "home_events",
				Tags:        map[string]string{"entity_id": "sensor.temp", "domain": "sensor"},
				Fields:      map[string]any{"state": "21.5", "normalized_value": 21.5, "fresh": true, "count": 3},
				Timestamp:   ts,
			},
			want: `home_events,domain=sensor,entity_id=sensor.temp count=3i,fresh=true,normalized_value=21.5,state="21.5" 1777636800000000042`,
		},
		{
			name: "spaces and commas escaped in tags",
			point: Point{
				Measurement: "home_events",
				Tags:        map[string]string{"area": "living room, front"},
				Fields:      map[string]any{"state": "on"},
				Timestamp:   ts,
			},
			want: `home_events,area=living\ room\,\ front state="on" 1777636800000000042`,
		},
		{
			name: "quotes and backslashes escaped in string fields",
			point: Point{
				Measurement: "home_events",
				Fields:      map[string]any{"state": `say "hi" \now`},
				Timestamp:   ts,
			},
			want: `home_events state="say \"hi\" \\now" 1777636800000000042`,
		},
		{
			name: "empty tag values dropped",
			point: Point{
				Measurement: "home_events",
				Tags:        map[string]string{"area": "", "domain": "light"},
				Fields:      map[string]any{"state": "on"},
				Timestamp:   ts,
			},
			want: `home_events,domain=light state="on" 1777636800000000042`,
		},
		{
			name:    "no fields rejected",
			point:   Point{Measurement: "home_events", Timestamp: ts},
			wantErr: true,
		},
		{
			name: "no measurement rejected",
			point: Point{
				Fields:    map[string]any{"state": "on"},
				Timestamp: ts,
			},
			wantErr: true,
		},
		{
			name: "unsupported field type rejected",
			point: Point{
				Measurement: "home_events",
				Fields:      map[string]any{"state": []string{"nope"}},
				Timestamp:   ts,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.point.Encode()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Encode() = %q, expected error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode()\n got %q\nwant %q", got, tt.want)
			}
		})
	}
}
