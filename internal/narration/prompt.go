// Package narration builds the prompt sent to LLM narrators.
package narration

import (
	"fmt"
	"strings"

	"github.com/floatchat/floatchat/internal/models"
)

// Prompt renders the narration request for one result: the user's question followed by the profile's
// position, time and depth readings.
func Prompt(query string, result models.ProfileResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You asked: %q\n\n", query)
	fmt.Fprintf(&b, "Profile at lat=%.4f, lon=%.4f on %s. ", result.Latitude, result.Longitude, result.Time)

	if len(result.DepthLevels) == 0 {
		b.WriteString("No valid depth readings.\n")
	} else {
		b.WriteString("Depth levels:\n")

		for _, l := range result.DepthLevels {
			fmt.Fprintf(&b, "- Pressure: %.1f dbar, Temp: %.2f °C, Salinity: %.2f PSU\n", l.Pressure, l.Temperature, l.Salinity)
		}
	}

	b.WriteString("\nIn simple terms, describe the ocean conditions at this profile and relate them to the question. ")
	b.WriteString("Keep it short, clear and conversational.")

	return b.String()
}
