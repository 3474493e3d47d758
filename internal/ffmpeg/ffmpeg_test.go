package ffmpeg

import "testing"

func TestParseProbeDuration(t *testing.T) {
	raw := []byte(`{"format":{"filename":"a.mp3","duration":"123.456000"}}`)
	d, err := parseProbeDuration(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 123.456 {
		t.Fatalf("got %v, want 123.456", d)
	}
}

func TestParseProbeDurationFailsClosed(t *testing.T) {
	cases := map[string][]byte{
		"invalid json":     []byte(`not json`),
		"missing duration": []byte(`{"format":{}}`),
		"bad number":       []byte(`{"format":{"duration":"abc"}}`),
		"negative":         []byte(`{"format":{"duration":"-3"}}`),
	}
	for name, raw := range cases {
		d, err := parseProbeDuration(raw)
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
		if d != 0 {
			t.Errorf("%s: expected 0 duration, got %v", name, d)
		}
	}
}

func TestStripExt(t *testing.T) {
	cases := map[string]string{
		"/data/uploads/talk.mp4":     "/data/uploads/talk",
		"/data/up.loads/clip.webm":   "/data/up.loads/clip",
		"/data/uploads/noextension":  "/data/uploads/noextension",
	}
	for in, want := range cases {
		if got := stripExt(in); got != want {
			t.Errorf("stripExt(%q) = %q, want %q", in, got, want)
		}
	}
}
