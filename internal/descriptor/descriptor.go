// Package descriptor reduces the samples of one enrollment into a single signature.
package descriptor

import (
	"errors"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// ErrNoSamples is returned when asked to aggregate an empty sample set.
var ErrNoSamples = errors.New("cannot aggregate an empty sample set")

// Aggregate returns the element-wise mean of the samples (a plain centroid).
// Samples are assumed to be quality-filtered already, so no outliers are rejected.
func Aggregate(samples []types.FaceSignature) (types.FaceSignature, error) {
	var sum types.FaceSignature
	if len(samples) == 0 {
		return sum, ErrNoSamples
	}

	for _, s := range samples {
		for i := range s {
			sum[i] += s[i]
		}
	}

	n := float64(len(samples))
	for i := range sum {
		sum[i] /= n
	}
	return sum, nil
}
