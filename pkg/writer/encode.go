package writer

import (
	"fmt"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/infrastructure/tsdb"
	"github.com/homepulse/server/pkg/types"
)

// point is one encoded line plus the metadata needed for dead-lettering.
type point struct {
	line     string
	key      string
	entityID string
}

// encodeEvent renders an enriched event as a line-protocol point. The
// idempotency key rides as a tag so the store deduplicates retried batches.
func encodeEvent(ev *types.EnrichedEvent) (point, error) {
	tags := map[string]string{
		"entity_id":              ev.EntityID,
		"domain":                 ev.Domain,
		shared.TagIdempotencyKey: ev.IdempotencyKey(),
	}
	if ev.Area != nil {
		tags["area"] = *ev.Area
	}
	if ev.DeviceClass != nil {
		tags["device_class"] = *ev.DeviceClass
	}

	fields := map[string]any{
		"state": ev.NewState.Value(),
	}
	if ev.NormalizedValue != nil {
		fields["normalized_value"] = *ev.NormalizedValue
	}
	if ev.DurationInState != nil {
		fields["duration_in_state"] = *ev.DurationInState
	}
	if ev.Unit != nil {
		fields["unit"] = *ev.Unit
	}

	for source, enr := range ev.Enrichments {
		fields[source+"_fresh"] = enr.Fresh
		for k, v := range enr.Values {
			switch v.(type) {
			case float64, float32, int, int64, bool, string:
				fields[source+"_"+k] = v
			}
		}
	}

	p := tsdb.Point{
		Measurement: shared.Measurement,
		Tags:        tags,
		Fields:      fields,
		Timestamp:   ev.TimeFired,
	}
	line, err := p.Encode()
	if err != nil {
		return point{}, fmt.Errorf("encode point for %s: %w", ev.EntityID, err)
	}
	return point{line: line, key: tags[shared.TagIdempotencyKey], entityID: ev.EntityID}, nil
}
