package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNumberCoercion(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		present bool
	}{
		{`1.5`, 1.5, true},
		{`"2.5"`, 2.5, true},
		{`" 3 "`, 3, true},
		{`""`, 0, true},
		{`"abc"`, 0, true},
		{`"NaN"`, 0, true},
		{`"Inf"`, 0, true},
		{`true`, 1, true},
		{`false`, 0, true},
		{`[1]`, 0, true},
		{`{"a":1}`, 0, true},
		{`null`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n Number
			if err := json.Unmarshal([]byte(tt.in), &n); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if n.Value != tt.want || n.Present != tt.present {
				t.Fatalf("got %+v, want value=%v present=%v", n, tt.want, tt.present)
			}
		})
	}
}

func TestNumberTruthy(t *testing.T) {
	if (Number{}).Truthy() || Num(0).Truthy() {
		t.Fatalf("absent and zero must not be truthy")
	}
	if !Num(-1).Truthy() {
		t.Fatalf("non-zero must be truthy")
	}
	if got := (Number{Value: 5}).OrZero(); got != 0 {
		t.Fatalf("absent OrZero = %v, want 0", got)
	}
}

func TestReadingIgnoresUnknownAndShapes(t *testing.T) {
	var r RawSpectrumReading
	raw := `{"schema_version":1,"bands":"nope","band_center":[1,2],"n":"512","rms":null}`
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Bands.Valid {
		t.Fatalf("string bands must not be valid")
	}
	if r.N.Value != 512 || r.RMS.Present {
		t.Fatalf("unexpected scalars n=%+v rms=%+v", r.N, r.RMS)
	}

	if err := json.Unmarshal([]byte(`{"bands":[1,null,"x"]}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !r.Bands.Valid || len(r.Bands.Values) != 3 {
		t.Fatalf("unexpected bands %+v", r.Bands)
	}
	if r.Bands.Values[1].Present || r.Bands.Values[2].Value != 0 {
		t.Fatalf("unexpected band coercion %+v", r.Bands.Values)
	}
}

func TestFieldsKeepInsertionOrder(t *testing.T) {
	f := NewFields(4)
	f.Set("band_0", 1)
	f.Set("rms", 0.5)
	f.Set("band_0", 2)
	f.Set("cpu_load", 12)

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"band_0":2,"rms":0.5,"cpu_load":12}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var back Fields
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.Keys(), f.Keys()) {
		t.Fatalf("keys = %v, want %v", back.Keys(), f.Keys())
	}

	f.Delete("rms")
	if f.Has("rms") || f.Len() != 2 {
		t.Fatalf("delete failed: %v", f.Keys())
	}
}

func TestFieldsCloneIsIndependent(t *testing.T) {
	f := NewFields(1)
	f.Set("rms", 1)
	c := f.Clone()
	c.Set("rms", 2)
	c.Set("seq", 3)
	if v, _ := f.Get("rms"); v != 1 || f.Has("seq") {
		t.Fatalf("clone shares state with original")
	}
}

func TestFieldsRejectNonObject(t *testing.T) {
	var f Fields
	if err := json.Unmarshal([]byte(`[1,2]`), &f); err == nil {
		t.Fatalf("expected error for array")
	}
}
