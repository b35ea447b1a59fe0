package acquisition

import (
	"math"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
)

// DetrendedRMS is the root mean square of the selected axes after removing each axis'
// mean over the window. Squared deviations of all selected axes are summed per sample
// before averaging over time.
func DetrendedRMS(samples []sensor.IMUSample, source sensor.Source, axis sensor.Axis) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := float64(len(samples))
	var mean [3]float64
	for _, s := range samples {
		v := source.Axes(s)
		for i := range mean {
			mean[i] += float64(v[i])
		}
	}
	for i := range mean {
		mean[i] /= n
	}
	var sum float64
	for _, s := range samples {
		v := source.Axes(s)
		for i := 0; i < 3; i++ {
			if !axis.Has(i) {
				continue
			}
			d := float64(v[i]) - mean[i]
			sum += d * d
		}
	}
	return math.Sqrt(sum / n)
}
