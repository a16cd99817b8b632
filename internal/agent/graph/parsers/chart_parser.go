package parsers

import (
	"strings"
)

const (
	visualizationLabel = "recommended visualization:"
	reasonLabel        = "reason:"
)

var chartKinds = map[string]bool{
	"bar":            true,
	"horizontal_bar": true,
	"line":           true,
	"pie":            true,
	"scatter":        true,
	"none":           true,
}

// ParseChartAdvice extracts the chart kind and reason from the advisor reply.
// The advisor is asked for a two-line "Recommended Visualization: ... /
// Reason: ..." format; replies that stray from it, or that name an unknown
// chart type, degrade to "none" so a flaky recommendation never fails a run
// that already has an answer.
func ParseChartAdvice(content string) (kind, reason string) {
	kind = "none"

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, visualizationLabel):
			value := strings.TrimSpace(line[len(visualizationLabel):])
			value = strings.ToLower(strings.Trim(value, " .\"'`*[]"))
			if chartKinds[value] {
				kind = value
			}
		case strings.HasPrefix(lower, reasonLabel):
			reason = strings.TrimSpace(line[len(reasonLabel):])
		}
	}

	if kind == "none" && reason == "" {
		reason = "Nenhuma visualização adequada para esses dados."
	}

	return kind, reason
}
