package service

import (
	"fmt"
	"strings"

	"github.com/floatchat/floatchat/internal/models"
)

// DescribeProfile renders the text that is embedded for a stored profile: when and where it was observed
// and the range of its valid readings. The same wording is used by the backfill worker and the seeder.
func DescribeProfile(p models.Profile, levels []models.DepthLevel) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Argo float profile observed %s at latitude %.3f, longitude %.3f.",
		p.ObservedAt.UTC().Format(models.ObservedAtLayout), p.Latitude, p.Longitude)

	readings := ValidReadings(levels, 0)
	if len(readings) == 0 {
		b.WriteString(" No valid depth readings.")

		return b.String()
	}

	first := readings[0]
	pres := [2]float64{first.Pressure, first.Pressure}
	temp := [2]float64{first.Temperature, first.Temperature}
	sal := [2]float64{first.Salinity, first.Salinity}

	for _, r := range readings[1:] {
		pres = [2]float64{min(pres[0], r.Pressure), max(pres[1], r.Pressure)}
		temp = [2]float64{min(temp[0], r.Temperature), max(temp[1], r.Temperature)}
		sal = [2]float64{min(sal[0], r.Salinity), max(sal[1], r.Salinity)}
	}

	fmt.Fprintf(&b, " %d depth levels from %.1f to %.1f dbar.", len(readings), pres[0], pres[1])
	fmt.Fprintf(&b, " Temperature %.2f to %.2f °C.", temp[0], temp[1])
	fmt.Fprintf(&b, " Salinity %.2f to %.2f PSU.", sal[0], sal[1])

	return b.String()
}
