package stages

import (
	"bytes"
	"encoding/json"
	"fmt"

	"spectrum-etl/internal/config"
	"spectrum-etl/internal/model"
)

// Sentinel states published by Home Assistant before a sensor has data.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// DiagnosticKind classifies a non-fatal problem seen during extraction.
type DiagnosticKind int

const (
	MalformedInput DiagnosticKind = iota + 1
	UnsupportedSchemaVersion
)

func (k DiagnosticKind) String() string {
	switch k {
	case MalformedInput:
		return "malformed_input"
	case UnsupportedSchemaVersion:
		return "unsupported_schema_version"
	default:
		return fmt.Sprintf("diagnostic(%d)", int(k))
	}
}

// Diagnostic is reported through a DiagnosticSink; it never aborts the caller.
type Diagnostic struct {
	Kind      DiagnosticKind
	Raw       string
	Err       error
	Declared  float64
	Supported int
}

// DiagnosticSink receives extraction diagnostics.
type DiagnosticSink interface {
	Report(Diagnostic)
}

// DiagnosticFunc adapts a function to DiagnosticSink.
type DiagnosticFunc func(Diagnostic)

func (f DiagnosticFunc) Report(d Diagnostic) { f(d) }

// MultiSink fans a diagnostic out to every non-nil sink.
type MultiSink []DiagnosticSink

func (m MultiSink) Report(d Diagnostic) {
	for _, s := range m {
		if s != nil {
			s.Report(d)
		}
	}
}

// CPULoadReader gives read-only access to an externally cached CPU load.
type CPULoadReader interface {
	LatestCPULoad() (float64, bool)
}

// scalarFields maps raw attributes to output field names, in output order.
var scalarFields = []struct {
	name string
	get  func(*model.RawSpectrumReading) model.Number
}{
	{"rms", func(r *model.RawSpectrumReading) model.Number { return r.RMS }},
	{"peak_hz", func(r *model.RawSpectrumReading) model.Number { return r.PeakHz }},
	{"fs", func(r *model.RawSpectrumReading) model.Number { return r.Fs }},
	{"fft_size", func(r *model.RawSpectrumReading) model.Number { return r.N }},
	{"max_analysis_hz", func(r *model.RawSpectrumReading) model.Number { return r.MaxAnalysisHz }},
	{"bin_hz", func(r *model.RawSpectrumReading) model.Number { return r.BinHz }},
	{"ts_ms", func(r *model.RawSpectrumReading) model.Number { return r.TsMs }},
	{"win_ms", func(r *model.RawSpectrumReading) model.Number { return r.WinMs }},
	{"hop_ms", func(r *model.RawSpectrumReading) model.Number { return r.HopMs }},
	{"seq", func(r *model.RawSpectrumReading) model.Number { return r.Seq }},
}

// Extractor turns spectrum text sensor states into time-series records.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	measurement     string
	tags            map[string]string
	schemaSupported int
	diag            DiagnosticSink
	cpu             CPULoadReader
}

// NewExtractor builds an Extractor from the deployment constants in cfg.
// diag and cpu may be nil.
func NewExtractor(cfg config.Config, diag DiagnosticSink, cpu CPULoadReader) *Extractor {
	return &Extractor{
		measurement: cfg.Measurement,
		tags: map[string]string{
			"sensor":   cfg.SensorTag,
			"location": cfg.LocationTag,
		},
		schemaSupported: cfg.SchemaSupported,
		diag:            diag,
		cpu:             cpu,
	}
}

// Extract parses raw and returns the record to forward, or nil when there is
// nothing to forward. An empty raw stands for a missing state.
func (e *Extractor) Extract(raw string, cpuLoad *float64) *model.OutputRecord {
	if raw == "" || raw == StateUnknown || raw == StateUnavailable {
		return nil
	}

	reading, err := ParseReading(raw)
	if err != nil {
		e.report(Diagnostic{Kind: MalformedInput, Raw: raw, Err: err})
		return nil
	}
	return e.ExtractReading(reading, cpuLoad)
}

// ExtractReading builds the record for an already decoded reading.
func (e *Extractor) ExtractReading(r model.RawSpectrumReading, cpuLoad *float64) *model.OutputRecord {
	if r.SchemaVersion.Truthy() && r.SchemaVersion.Value > float64(e.schemaSupported) {
		e.report(Diagnostic{
			Kind:      UnsupportedSchemaVersion,
			Declared:  r.SchemaVersion.Value,
			Supported: e.schemaSupported,
		})
	}

	fields := model.NewFields(len(r.Bands.Values) + len(scalarFields) + 2)

	if r.Bands.Valid {
		for idx, v := range r.Bands.Values {
			fields.Set(fmt.Sprintf("band_%d", idx), v.OrZero())
		}
	}

	for _, sf := range scalarFields {
		fields.Set(sf.name, sf.get(&r).OrZero())
	}

	if r.EpochMs.Truthy() {
		fields.Set("epoch_ms", r.EpochMs.Value)
	}

	if v, ok := e.resolveCPULoad(cpuLoad); ok {
		fields.Set("cpu_load", v)
	}

	return &model.OutputRecord{
		Measurement: e.measurement,
		Fields:      fields,
		Tags:        e.copyTags(),
	}
}

// resolveCPULoad prefers the cached value, then the per-call parameter.
func (e *Extractor) resolveCPULoad(param *float64) (float64, bool) {
	if e.cpu != nil {
		if v, ok := e.cpu.LatestCPULoad(); ok {
			return v, true
		}
	}
	if param != nil {
		return *param, true
	}
	return 0, false
}

func (e *Extractor) copyTags() map[string]string {
	out := make(map[string]string, len(e.tags))
	for k, v := range e.tags {
		out[k] = v
	}
	return out
}

func (e *Extractor) report(d Diagnostic) {
	if e.diag != nil {
		e.diag.Report(d)
	}
}

// ParseReading decodes raw as a spectrum document. Only JSON objects are
// accepted.
func ParseReading(raw string) (model.RawSpectrumReading, error) {
	var r model.RawSpectrumReading
	data := bytes.TrimSpace([]byte(raw))
	if !json.Valid(data) {
		// Re-run through the decoder for a positioned error message.
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return r, fmt.Errorf("parse spectrum json: %w", err)
		}
		return r, fmt.Errorf("parse spectrum json: invalid document")
	}
	if len(data) == 0 || data[0] != '{' {
		return r, fmt.Errorf("parse spectrum json: expected object")
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse spectrum json: %w", err)
	}
	return r, nil
}
