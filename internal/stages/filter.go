package stages

import (
	"spectrum-etl/internal/config"
	"spectrum-etl/internal/model"
)

// Drop reasons reported by FilterStage.
const (
	ReasonIdle     = "idle"
	ReasonNoFields = "no_fields"
)

// FilterStage suppresses idle readings and removes unwanted fields.
type FilterStage struct {
	minRMS float64
	drop   map[string]struct{}
}

// NewFilterStage constructs a FilterStage from config.
func NewFilterStage(cfg config.Config) *FilterStage {
	return &FilterStage{
		minRMS: cfg.MinRMS,
		drop:   buildExactSet(cfg.DropFields),
	}
}

// Apply returns true when the record should be written, mutating Fields to
// remove dropped keys. A false result carries the drop reason.
func (f *FilterStage) Apply(rec *model.OutputRecord) (bool, string) {
	if f.minRMS > 0 {
		if rms, ok := rec.Fields.Get("rms"); ok && rms < f.minRMS {
			return false, ReasonIdle
		}
	}

	for key := range f.drop {
		rec.Fields.Delete(key)
	}
	if rec.Fields.Len() == 0 {
		return false, ReasonNoFields
	}
	return true, ""
}

func buildExactSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
