package service

import (
	"strings"
	"unicode"

	"github.com/kjstillabower/ambient-gateway/internal/models"
	"github.com/kjstillabower/ambient-gateway/internal/prompt"
)

// quoteChars are stripped from both ends of model output.
const quoteChars = "\"'`“”‘’"

// PostProcess reduces raw model output to a single display sentence: surrounding
// whitespace and quotes are trimmed and only the first line's first sentence is
// kept. A sentence ends at '.', '!' or '?' followed by whitespace or end of
// text, so "23.4" is never split. The result may be empty.
func PostProcess(raw string) string {
	s := trimQuotes(raw)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return trimQuotes(firstSentence(s))
}

func trimQuotes(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(quoteChars, r)
	})
}

func firstSentence(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && strings.ContainsRune(quoteChars, runes[j]) {
			j++
		}
		if j == len(runes) || unicode.IsSpace(runes[j]) {
			return string(runes[:j])
		}
	}
	return s
}

// FallbackDescription is the deterministic sentence used when the model fails.
// It states the raw readings, and the outside temperature when known.
func FallbackDescription(reading models.SensorReading, outsideC *float64) string {
	var sb strings.Builder
	sb.WriteString("Inside it is ")
	sb.WriteString(prompt.FormatNumber(reading.TemperatureC))
	sb.WriteString("°C with ")
	sb.WriteString(prompt.FormatNumber(reading.Humidity))
	sb.WriteString("% humidity.")
	if outsideC != nil {
		sb.WriteString(" Outside it is ")
		sb.WriteString(prompt.FormatNumber(*outsideC))
		sb.WriteString("°C.")
	}
	return sb.String()
}
