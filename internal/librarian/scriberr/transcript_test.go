package scriberr

import "testing"

func TestDecodeTranscript_Shapes(t *testing.T) {
	segmentJSON := `{"speaker": "SPEAKER_00", "text": "hello", "start": 0.5, "end": 2.1}`

	cases := []struct {
		name string
		in   string
	}{
		{"top level segments", `{"segments": [` + segmentJSON + `]}`},
		{"nested transcript object", `{"transcript": {"segments": [` + segmentJSON + `]}}`},
		{"transcript array", `{"transcript": [` + segmentJSON + `]}`},
		{"double encoded string", `{"transcript": "{\"segments\": [{\"speaker\": \"SPEAKER_00\", \"text\": \"hello\", \"start\": 0.5, \"end\": 2.1}]}"}`},
		{"bare array", `[` + segmentJSON + `]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := DecodeTranscript([]byte(tc.in))
			if err != nil {
				t.Fatal(err)
			}
			if len(tr.Segments) != 1 {
				t.Fatalf("segments = %d, want 1", len(tr.Segments))
			}
			s := tr.Segments[0]
			if s.Speaker != "SPEAKER_00" || s.Text != "hello" || s.Start != 0.5 || s.End != 2.1 {
				t.Fatalf("segment = %+v", s)
			}
		})
	}
}

func TestDecodeTranscript_Unrecognized(t *testing.T) {
	for _, in := range []string{
		`{"something": "else"}`,
		`{"transcript": 42}`,
		`"just a string"`,
	} {
		if tr, err := DecodeTranscript([]byte(in)); err == nil {
			t.Errorf("DecodeTranscript(%s) = %+v, want error", in, tr)
		}
	}
}

func TestSegment_AltKeys(t *testing.T) {
	tr, err := DecodeTranscript([]byte(
		`{"segments": [{"speaker": "SPEAKER_01", "word": "hi", "start_time": 1.0, "end_time": 1.5}]}`))
	if err != nil {
		t.Fatal(err)
	}
	s := tr.Segments[0]
	if s.Text != "hi" {
		t.Errorf("Text = %q, want word fallback", s.Text)
	}
	if s.Start != 1.0 || s.End != 1.5 {
		t.Errorf("times = %v..%v", s.Start, s.End)
	}
}

func TestIsOutOfMemory(t *testing.T) {
	if !IsOutOfMemory("RuntimeError: CUDA out of memory. Tried to allocate 2 GiB") {
		t.Error("CUDA OOM not detected")
	}
	if !IsOutOfMemory("torch.cuda.OutOfMemoryError") {
		t.Error("OutOfMemoryError not detected")
	}
	if IsOutOfMemory("ffmpeg exited with code 1") {
		t.Error("unrelated failure flagged as OOM")
	}
}
