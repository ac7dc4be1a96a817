package scriberr

import (
	"encoding/json"
	"fmt"
)

// Segment is one diarized utterance.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// segmentWire tolerates the field-name variants different server versions
// emit for the same data.
type segmentWire struct {
	Speaker   string   `json:"speaker"`
	Text      string   `json:"text"`
	Word      string   `json:"word"`
	Start     *float64 `json:"start"`
	End       *float64 `json:"end"`
	StartTime *float64 `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
}

// UnmarshalJSON accepts both start/end and start_time/end_time, and word
// in place of text.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var w segmentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Speaker = w.Speaker
	s.Text = w.Text
	if s.Text == "" {
		s.Text = w.Word
	}
	if w.Start != nil {
		s.Start = *w.Start
	} else if w.StartTime != nil {
		s.Start = *w.StartTime
	}
	if w.End != nil {
		s.End = *w.End
	} else if w.EndTime != nil {
		s.End = *w.EndTime
	}
	return nil
}

// Transcript is a fully decoded diarized transcript.
type Transcript struct {
	JobID    string    `json:"job_id,omitempty"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// DecodeTranscript parses the transcript endpoint's response. The server
// has shipped several envelope shapes over time; exactly these are
// accepted, anything else is an error:
//
//	{"segments": [...]}
//	{"transcript": {"segments": [...]}}
//	{"transcript": [...]}
//	{"transcript": "<json-encoded one of the above>"}
//	[...]
func DecodeTranscript(data []byte) (*Transcript, error) {
	// Bare segment array.
	var segments []Segment
	if err := json.Unmarshal(data, &segments); err == nil {
		return &Transcript{Segments: segments}, nil
	}

	var envelope struct {
		JobID      string          `json:"job_id"`
		Language   string          `json:"language"`
		Segments   []Segment       `json:"segments"`
		Transcript json.RawMessage `json:"transcript"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse transcript response: %w", err)
	}

	t := &Transcript{JobID: envelope.JobID, Language: envelope.Language}

	if envelope.Segments != nil {
		t.Segments = envelope.Segments
		return t, nil
	}
	if envelope.Transcript == nil {
		return nil, fmt.Errorf("transcript response has neither segments nor transcript field")
	}

	inner := envelope.Transcript
	// Double-encoded servers wrap the payload in a JSON string.
	var asString string
	if err := json.Unmarshal(inner, &asString); err == nil {
		inner = json.RawMessage(asString)
	}

	if err := json.Unmarshal(inner, &segments); err == nil {
		t.Segments = segments
		return t, nil
	}
	var nested struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(inner, &nested); err == nil && nested.Segments != nil {
		t.Segments = nested.Segments
		return t, nil
	}
	return nil, fmt.Errorf("unrecognized transcript shape")
}
