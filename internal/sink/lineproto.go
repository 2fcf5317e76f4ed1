package sink

import (
	"sort"
	"strconv"
	"strings"

	"spectrum-etl/internal/model"
)

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	keyEscaper         = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)
)

// LineProtocol renders rec as one InfluxDB line-protocol point. Tags are
// sorted by key and empty tag values are skipped; fields keep record order.
// epoch_ms, when present, becomes the point timestamp (millisecond precision).
// A record without fields is not a valid point; writers skip it.
func LineProtocol(rec model.OutputRecord) string {
	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(rec.Measurement))

	tagKeys := make([]string, 0, len(rec.Tags))
	for k, v := range rec.Tags {
		if k == "" || v == "" {
			continue
		}
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(keyEscaper.Replace(k))
		b.WriteByte('=')
		b.WriteString(keyEscaper.Replace(rec.Tags[k]))
	}

	b.WriteByte(' ')
	for i, k := range rec.Fields.Keys() {
		v, _ := rec.Fields.Get(k)
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(keyEscaper.Replace(k))
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}

	if ts, ok := rec.Fields.Get("epoch_ms"); ok && ts > 0 {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(int64(ts), 10))
	}
	return b.String()
}
