package stages

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"spectrum-etl/internal/model"
)

// Band ranges used for the coarse energy split, as band indices [lo, hi).
const (
	lowBandsEnd = 4
	midBandsEnd = 12
	rolloffPct  = 0.85
)

// BandValues collects band_0..band_{N-1} from fields in index order.
func BandValues(fields model.Fields) []float64 {
	var out []float64
	for i := 0; ; i++ {
		v, ok := fields.Get(fmt.Sprintf("band_%d", i))
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// AddSpectralFeatures appends summary statistics over the band energies.
// Records without bands are left untouched.
func AddSpectralFeatures(rec *model.OutputRecord) {
	bands := BandValues(rec.Fields)
	if len(bands) == 0 {
		return
	}

	mean, std := stat.PopMeanStdDev(bands, nil)
	rec.Fields.Set("band_mean", mean)
	rec.Fields.Set("band_std", std)
	rec.Fields.Set("band_max", floats.Max(bands))
	rec.Fields.Set("band_min", floats.Min(bands))
	rec.Fields.Set("spectral_centroid", centroid(bands))
	rec.Fields.Set("spectral_rolloff", percentile(bands, rolloffPct))
	rec.Fields.Set("low_freq_energy", sumRange(bands, 0, lowBandsEnd))
	rec.Fields.Set("mid_freq_energy", sumRange(bands, lowBandsEnd, midBandsEnd))
	rec.Fields.Set("high_freq_energy", sumRange(bands, midBandsEnd, len(bands)))
}

// centroid is the energy-weighted mean band index; 0 for a silent spectrum.
func centroid(bands []float64) float64 {
	total := floats.Sum(bands)
	if total == 0 {
		return 0
	}
	idx := make([]float64, len(bands))
	for i := range idx {
		idx[i] = float64(i)
	}
	c := floats.Dot(bands, idx) / total
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}

// percentile interpolates linearly between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

func sumRange(values []float64, lo, hi int) float64 {
	if lo >= len(values) {
		return 0
	}
	if hi > len(values) {
		hi = len(values)
	}
	return floats.Sum(values[lo:hi])
}
