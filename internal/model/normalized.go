package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// OutputRecord is one time-series point ready for a line-protocol writer.
type OutputRecord struct {
	Measurement string            `json:"measurement"`
	Fields      Fields            `json:"fields"`
	Tags        map[string]string `json:"tags"`
}

// Payload is what a flow hands to the database writer: a one-element
// sequence wrapping the record.
type Payload []OutputRecord

// Fields is an insertion-ordered map of numeric field values.
type Fields struct {
	keys   []string
	values map[string]float64
}

func NewFields(capacity int) Fields {
	return Fields{
		keys:   make([]string, 0, capacity),
		values: make(map[string]float64, capacity),
	}
}

// Set stores v under key, appending the key if it is new.
func (f *Fields) Set(key string, v float64) {
	if f.values == nil {
		f.values = make(map[string]float64)
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
}

func (f Fields) Get(key string) (float64, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

func (f *Fields) Delete(key string) {
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

func (f Fields) Len() int { return len(f.keys) }

// Keys returns the field names in insertion order.
func (f Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	out := NewFields(len(f.keys))
	for _, k := range f.keys {
		out.Set(k, f.values[k])
	}
	return out
}

// MarshalJSON writes the fields as an object in insertion order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(f.values[k], 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of numbers, keeping document order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Fields{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}
	out := NewFields(8)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var v float64
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
