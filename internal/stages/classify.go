package stages

import (
	"gonum.org/v1/gonum/stat"

	"spectrum-etl/internal/config"
	"spectrum-etl/internal/model"
)

// Device labels assigned by Classifier.
const (
	DevicePump    = "pump"
	DeviceFan     = "fan"
	DeviceIdle    = "idle"
	DeviceUnknown = "unknown"
)

// Bands inspected by the rules: pump energy sits in bands 2 and 3 (around
// 50 Hz), fan energy in the mid bands [4, 8).
const (
	pumpBandA    = 2
	pumpBandB    = 3
	fanBandsFrom = 4
	fanBandsTo   = 8
)

// Classifier labels a reading with the device most likely producing it.
// Rules are checked in order: pump, fan, idle; otherwise unknown.
type Classifier struct {
	cfg config.ClassifyConfig
}

func NewClassifier(cfg config.ClassifyConfig) *Classifier {
	if cfg.TagKey == "" {
		cfg.TagKey = config.DefaultClassify().TagKey
	}
	return &Classifier{cfg: cfg}
}

// Classify returns the device label for the record's rms, peak_hz and bands.
func (c *Classifier) Classify(fields model.Fields) string {
	rms, _ := fields.Get("rms")
	peak, _ := fields.Get("peak_hz")
	bands := BandValues(fields)

	if peak >= c.cfg.PumpPeakMinHz && peak <= c.cfg.PumpPeakMaxHz && rms > c.cfg.PumpMinRMS &&
		len(bands) > pumpBandB && bands[pumpBandA] > c.cfg.PumpMinBand && bands[pumpBandB] > c.cfg.PumpMinBand {
		return DevicePump
	}
	if rms > c.cfg.FanMinRMS && rms < c.cfg.FanMaxRMS && len(bands) > fanBandsFrom {
		mid := bands[fanBandsFrom:min(len(bands), fanBandsTo)]
		if stat.Mean(mid, nil) > c.cfg.FanMinBandMean {
			return DeviceFan
		}
	}
	if rms < c.cfg.IdleMaxRMS {
		return DeviceIdle
	}
	return DeviceUnknown
}

// Apply tags rec with its device label.
func (c *Classifier) Apply(rec *model.OutputRecord) {
	if rec.Tags == nil {
		rec.Tags = make(map[string]string, 1)
	}
	rec.Tags[c.cfg.TagKey] = c.Classify(rec.Fields)
}
