package prompt

import (
	"math"
	"strings"
	"testing"

	"github.com/kjstillabower/ambient-gateway/internal/models"
)

func TestBuild_WithoutOutside(t *testing.T) {
	got := Build(models.SensorReading{TemperatureC: 23.4, Humidity: 52}, nil)
	want := "You are a home weather assistant.\n\n" +
		"Inside temperature: 23.4°C\n" +
		"Humidity: 52%\n" +
		"\n" +
		"Write ONE friendly sentence describing the indoor conditions.\n" +
		"Avoid emojis. Be concise. Sound human."
	if got != want {
		t.Errorf("Build() =\n%s\nwant\n%s", got, want)
	}
	if strings.Contains(strings.ToLower(got), "outside") {
		t.Error("Build() without outside temperature mentions outside")
	}
}

func TestBuild_WithOutside(t *testing.T) {
	outside := 11.2
	got := Build(models.SensorReading{TemperatureC: 21, Humidity: 40.5}, &outside)
	for _, line := range []string{"Inside temperature: 21°C", "Humidity: 40.5%", "Outside temperature: 11.2°C"} {
		if !strings.Contains(got, line) {
			t.Errorf("Build() missing %q in\n%s", line, got)
		}
	}
	if strings.Index(got, "Outside") < strings.Index(got, "Humidity") {
		t.Error("outside line should follow the indoor lines")
	}
}

// TestBuild_Deterministic verifies the same input always yields the same prompt.
func TestBuild_Deterministic(t *testing.T) {
	r := models.SensorReading{TemperatureC: 19.95, Humidity: 61}
	if Build(r, nil) != Build(r, nil) {
		t.Error("Build() is not deterministic")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{52, "52"},
		{23.4, "23.4"},
		{-3.25, "-3.25"},
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{100, "100"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
