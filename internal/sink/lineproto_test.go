package sink

import (
	"testing"

	"spectrum-etl/internal/model"
)

func testRecord() model.OutputRecord {
	f := model.NewFields(4)
	f.Set("band_0", 12.5)
	f.Set("rms", 0.012345)
	f.Set("fft_size", 512)
	return model.OutputRecord{
		Measurement: "body_sound",
		Fields:      f,
		Tags:        map[string]string{"sensor": "body_sound_1", "location": "basement"},
	}
}

func TestLineProtocol(t *testing.T) {
	got := LineProtocol(testRecord())
	want := "body_sound,location=basement,sensor=body_sound_1 band_0=12.5,rms=0.012345,fft_size=512"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestLineProtocolTimestampAndEscaping(t *testing.T) {
	rec := testRecord()
	rec.Measurement = "body sound,v2"
	rec.Tags = map[string]string{"location": "main hall", "sensor": "a=b", "empty": ""}
	rec.Fields.Set("epoch_ms", 1700000000123)

	got := LineProtocol(rec)
	want := `body\ sound\,v2,location=main\ hall,sensor=a\=b band_0=12.5,rms=0.012345,fft_size=512,epoch_ms=1700000000123 1700000000123`
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}
