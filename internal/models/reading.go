package models

import "time"

// SensorReading is one cycle from the sensor node. OutsideTempC is optional and,
// when supplied by the caller, takes precedence over the weather provider.
type SensorReading struct {
	TemperatureC float64  `json:"temperature_c"`
	Humidity     float64  `json:"humidity"`
	OutsideTempC *float64 `json:"outside_temp_c,omitempty"`
}

// OutsideTemperature is the cached outside reading. Replaced whole on refresh.
type OutsideTemperature struct {
	ValueC    float64   `json:"value_c"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how long ago the value was fetched relative to now.
func (o OutsideTemperature) Age(now time.Time) time.Duration {
	return now.Sub(o.FetchedAt)
}

// Description source values.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Description is the sentence returned to the sensor node.
type Description struct {
	Text   string `json:"description"`
	Source string `json:"-"`
}
