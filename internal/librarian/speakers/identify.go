package speakers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/llm"
)

const identifySystemPrompt = `You identify meeting participants in diarized transcripts.
You receive a transcript where speakers are labeled SPEAKER_00, SPEAKER_01 and so on.
Determine each speaker's real name using, in order of reliability:
1. Self-introductions ("Hi, I'm Maria").
2. Direct address by other participants ("Maria, what do you think?").
3. Context such as roles or projects mentioned.
If a speaker's name cannot be determined with reasonable confidence, keep the original label.
Respond with only a JSON object mapping each label to a name or to the unchanged label, like:
{"SPEAKER_00": "Maria", "SPEAKER_01": "SPEAKER_01"}`

// Past this many blocks the transcript is sampled from both ends;
// introductions cluster at the start, farewells at the end.
const (
	truncateThreshold = 40
	truncateHeadTail  = 20
)

// Identify asks the model to name each speaker label in the transcript.
// The result only contains labels that appear in blocks; labels the model
// could not name map to themselves.
func Identify(ctx context.Context, completer llm.Completer, blocks []Block) (map[string]string, error) {
	labels := Labels(blocks)
	if len(labels) == 0 {
		return map[string]string{}, nil
	}

	text := FormatText(sampleBlocks(blocks), nil)
	text = llm.TruncateForPrompt(text, 24000)

	prompt := fmt.Sprintf("Speakers present: %s\n\nTranscript:\n%s",
		strings.Join(labels, ", "), text)

	raw, err := completer.Complete(ctx, identifySystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("speaker identification: %w", err)
	}

	blob, ok := llm.ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("speaker identification: no JSON in model response")
	}
	var parsed map[string]string
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		return nil, fmt.Errorf("speaker identification: %w", err)
	}

	// Only keep answers for labels that actually exist.
	result := make(map[string]string, len(labels))
	for _, label := range labels {
		name := strings.TrimSpace(parsed[label])
		if name == "" {
			name = label
		}
		result[label] = name
	}
	return result, nil
}

func sampleBlocks(blocks []Block) []Block {
	if len(blocks) <= truncateThreshold {
		return blocks
	}
	sampled := make([]Block, 0, 2*truncateHeadTail)
	sampled = append(sampled, blocks[:truncateHeadTail]...)
	sampled = append(sampled, blocks[len(blocks)-truncateHeadTail:]...)
	return sampled
}
