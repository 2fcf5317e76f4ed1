package plugins

import (
	"reflect"
	"testing"

	"spectrum-etl/internal/config"
	"spectrum-etl/internal/stages"
)

func TestBuildTransformsUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.Transforms = []string{"field_filter", "nope"}
	if _, err := BuildTransforms(cfg); err == nil {
		t.Fatalf("expected error for unknown transform")
	}
}

func TestApplyFeaturesThenFilter(t *testing.T) {
	cfg := config.Default()
	cfg.Transforms = []string{"Features", "field_filter"}
	cfg.DropFields = []string{"band_std"}

	transforms, err := BuildTransforms(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	rec := stages.NewExtractor(cfg, nil, nil).Extract(`{"rms":0.5,"bands":[1,3]}`, nil)
	out, drop, reason, err := Apply(transforms, *rec)
	if err != nil || drop {
		t.Fatalf("unexpected drop=%v reason=%q err=%v", drop, reason, err)
	}
	if !out.Fields.Has("band_mean") {
		t.Fatalf("expected features to be added")
	}
	if out.Fields.Has("band_std") {
		t.Fatalf("expected band_std to be dropped by filter")
	}
}

func TestApplyStopsAtDrop(t *testing.T) {
	cfg := config.Default()
	cfg.Transforms = []string{"field_filter", "features"}
	cfg.MinRMS = 1

	transforms, err := BuildTransforms(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rec := stages.NewExtractor(cfg, nil, nil).Extract(`{"rms":0.5,"bands":[1,3]}`, nil)
	out, drop, reason, _ := Apply(transforms, *rec)
	if !drop || reason != stages.ReasonIdle {
		t.Fatalf("expected idle drop, got drop=%v reason=%q", drop, reason)
	}
	if out.Fields.Has("band_mean") {
		t.Fatalf("transforms after a drop must not run")
	}
}

func TestApplyClassifyTagsDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Transforms = []string{"classify"}

	transforms, err := BuildTransforms(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rec := stages.NewExtractor(cfg, nil, nil).Extract(`{"rms":0.025,"peak_hz":50,"bands":[1,1,20,20,1,1,1,1]}`, nil)
	out, drop, _, err := Apply(transforms, *rec)
	if err != nil || drop {
		t.Fatalf("unexpected drop=%v err=%v", drop, err)
	}
	if out.Tags["device"] != stages.DevicePump {
		t.Fatalf("device tag = %q, want %q", out.Tags["device"], stages.DevicePump)
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	cfg := config.Default()
	cfg.Transforms = []string{"features", "classify", "field_filter"}
	cfg.DropFields = []string{"seq"}

	transforms, err := BuildTransforms(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rec := stages.NewExtractor(cfg, nil, nil).Extract(`{"rms":0.001,"seq":4,"bands":[1,3]}`, nil)
	keys := append([]string(nil), rec.Fields.Keys()...)
	tags := len(rec.Tags)

	out, drop, _, err := Apply(transforms, *rec)
	if err != nil || drop {
		t.Fatalf("unexpected drop=%v err=%v", drop, err)
	}
	if out.Fields.Has("seq") || !out.Fields.Has("band_mean") {
		t.Fatalf("unexpected output keys %v", out.Fields.Keys())
	}
	if !reflect.DeepEqual(rec.Fields.Keys(), keys) || !rec.Fields.Has("seq") || rec.Fields.Has("band_mean") {
		t.Fatalf("input fields changed: %v", rec.Fields.Keys())
	}
	if len(rec.Tags) != tags || rec.Tags["device"] != "" {
		t.Fatalf("input tags changed: %v", rec.Tags)
	}
}
