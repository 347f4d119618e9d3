package shared

import "time"

const (
	// Measurement is the single measurement all enriched events are written to.
	Measurement = "home_events"

	// TagIdempotencyKey is the write-line tag the store deduplicates on.
	TagIdempotencyKey = "idem"

	SourceWeather          = "weather"
	SourceCarbonIntensity  = "carbon_intensity"
	SourceElectricityPrice = "electricity_pricing"
	SourceAirQuality       = "air_quality"
	SourceCalendar         = "calendar"
	SourceSmartMeter       = "smart_meter"

	ComponentSession    = "session"
	ComponentNormalizer = "normalizer"
	ComponentJoiner     = "joiner"
	ComponentWriter     = "writer"
)

// Attribute keys the normalizer pulls fixed metadata from.
const (
	AttrDeviceClass    = "device_class"
	AttrArea           = "area"
	AttrDeviceID       = "device_id"
	AttrEntityCategory = "entity_category"
	AttrUnit           = "unit_of_measurement"
)

// Pipeline defaults. Every one of these is overridable from the environment
// (see bootstrap.LoadConfig).
const (
	DefaultBatchMaxPoints      = 1000
	DefaultBatchMaxAge         = 1 * time.Second
	DefaultBatchMaxInFlight    = 2
	DefaultWriteAttempts       = 5
	DefaultWriteTimeout        = 30 * time.Second
	DefaultFetchTimeout        = 10 * time.Second
	DefaultReconnectMaxBackoff = 60 * time.Second
	DefaultEventBuffer         = 256
	DefaultDrainGrace          = 30 * time.Second
)
