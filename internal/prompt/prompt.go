// Package prompt turns a sensor reading into the instruction text sent to the
// language model. It has no knowledge of the model's wire format.
package prompt

import (
	"strconv"
	"strings"

	"github.com/kjstillabower/ambient-gateway/internal/models"
)

const (
	preamble    = "You are a home weather assistant."
	instruction = "Write ONE friendly sentence describing the indoor conditions."
	style       = "Avoid emojis. Be concise. Sound human."
)

// Build returns the prompt for reading. The outside temperature line is
// present only when outsideC is non-nil.
func Build(reading models.SensorReading, outsideC *float64) string {
	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\n")
	sb.WriteString("Inside temperature: " + FormatNumber(reading.TemperatureC) + "°C\n")
	sb.WriteString("Humidity: " + FormatNumber(reading.Humidity) + "%\n")
	if outsideC != nil {
		sb.WriteString("Outside temperature: " + FormatNumber(*outsideC) + "°C\n")
	}
	sb.WriteString("\n")
	sb.WriteString(instruction)
	sb.WriteString("\n")
	sb.WriteString(style)
	return sb.String()
}

// FormatNumber renders v in its shortest decimal form: 52, 23.4, -3.25.
func FormatNumber(v float64) string {
	if v == 0 {
		v = 0 // normalizes -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
