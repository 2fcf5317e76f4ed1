package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// RawSpectrumReading is the JSON document published by the sensor's
// spectrum text entity. Every attribute is optional; unknown attributes
// (band_center, band_low, band_high, future additions) are ignored.
type RawSpectrumReading struct {
	SchemaVersion Number `json:"schema_version"`
	Bands         Bands  `json:"bands"`
	RMS           Number `json:"rms"`
	PeakHz        Number `json:"peak_hz"`
	Fs            Number `json:"fs"`
	N             Number `json:"n"`
	MaxAnalysisHz Number `json:"max_analysis_hz"`
	BinHz         Number `json:"bin_hz"`
	TsMs          Number `json:"ts_ms"`
	EpochMs       Number `json:"epoch_ms"`
	WinMs         Number `json:"win_ms"`
	HopMs         Number `json:"hop_ms"`
	Seq           Number `json:"seq"`
}

// Number is a permissively decoded JSON scalar. Decoding never fails:
// numbers are taken as-is, numeric strings are parsed, booleans become 0/1,
// and anything that cannot be read as a finite number becomes 0.
type Number struct {
	Value   float64
	Present bool
}

func Num(v float64) Number { return Number{Value: v, Present: true} }

// Truthy reports whether the attribute was present with a non-zero value.
func (n Number) Truthy() bool {
	return n.Present && n.Value != 0
}

// OrZero returns the value when truthy and 0 otherwise.
func (n Number) OrZero() float64 {
	if n.Truthy() {
		return n.Value
	}
	return 0
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = Number{}
		return nil
	}
	*n = Number{Value: coerce(data), Present: true}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Present {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
}

func coerce(data []byte) float64 {
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0
		}
		return parseFinite(strings.TrimSpace(s))
	case 't':
		return 1
	case 'f', '[', '{':
		return 0
	default:
		return parseFinite(string(data))
	}
}

func parseFinite(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Bands holds the band energies when the document carried a JSON array
// under "bands". Any other shape leaves Valid false.
type Bands struct {
	Values []Number
	Valid  bool
}

func BandsOf(values ...float64) Bands {
	b := Bands{Values: make([]Number, len(values)), Valid: true}
	for i, v := range values {
		b.Values[i] = Num(v)
	}
	return b
}

func (b *Bands) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		*b = Bands{}
		return nil
	}
	var values []Number
	if err := json.Unmarshal(data, &values); err != nil {
		*b = Bands{}
		return nil
	}
	*b = Bands{Values: values, Valid: true}
	return nil
}

func (b Bands) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Values)
}

// Message is one flow message: the text sensor state plus an optional
// CPU load sampled alongside it.
type Message struct {
	Payload string
	CPULoad *float64
	// Err is set when the source could not deliver the payload intact;
	// Payload then holds a prefix for diagnostics.
	Err error
}
