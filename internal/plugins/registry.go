package plugins

import (
	"fmt"
	"strings"

	"spectrum-etl/internal/config"
	"spectrum-etl/internal/model"
	"spectrum-etl/internal/stages"
)

// Transform applies a mutation to a record and can drop it with a reason.
// Returned record replaces the input.
type Transform func(model.OutputRecord) (model.OutputRecord, bool, string, error)

var transformRegistry = map[string]func(config.Config) Transform{}

// RegisterTransform registers a transform factory by name.
func RegisterTransform(name string, builder func(config.Config) Transform) {
	transformRegistry[strings.ToLower(name)] = builder
}

// BuildTransforms constructs the transforms specified in config.Transforms.
func BuildTransforms(cfg config.Config) ([]Transform, error) {
	names := cfg.Transforms
	if len(names) == 0 {
		names = []string{"field_filter"}
	}
	var result []Transform
	for _, name := range names {
		builder, ok := transformRegistry[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown transform %q", name)
		}
		result = append(result, builder(cfg))
	}
	return result, nil
}

// Apply runs transforms in order, stopping at the first drop or error. rec is
// copied first, so transforms never mutate the caller's fields or tags.
func Apply(transforms []Transform, rec model.OutputRecord) (model.OutputRecord, bool, string, error) {
	rec.Fields = rec.Fields.Clone()
	tags := make(map[string]string, len(rec.Tags))
	for k, v := range rec.Tags {
		tags[k] = v
	}
	rec.Tags = tags

	for _, tr := range transforms {
		var (
			drop   bool
			reason string
			err    error
		)
		rec, drop, reason, err = tr(rec)
		if err != nil || drop {
			return rec, drop, reason, err
		}
	}
	return rec, false, "", nil
}

func init() {
	RegisterTransform("field_filter", func(cfg config.Config) Transform {
		fs := stages.NewFilterStage(cfg)
		return func(rec model.OutputRecord) (model.OutputRecord, bool, string, error) {
			if ok, reason := fs.Apply(&rec); !ok {
				return rec, true, reason, nil
			}
			return rec, false, "", nil
		}
	})

	RegisterTransform("classify", func(cfg config.Config) Transform {
		c := stages.NewClassifier(cfg.Classify)
		return func(rec model.OutputRecord) (model.OutputRecord, bool, string, error) {
			c.Apply(&rec)
			return rec, false, "", nil
		}
	})

	RegisterTransform("features", func(config.Config) Transform {
		return func(rec model.OutputRecord) (model.OutputRecord, bool, string, error) {
			stages.AddSpectralFeatures(&rec)
			return rec, false, "", nil
		}
	})
}
