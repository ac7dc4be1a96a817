// Package speakers turns diarized transcripts into named conversations:
// cleaning segment runs, tracking who SPEAKER_NN actually is, and asking a
// language model for a first guess.
package speakers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/scriberr"
)

// Block is a merged run of consecutive segments by the same speaker.
type Block struct {
	Speaker string
	Text    string
	Start   float64
	End     float64
}

// Clean merges consecutive segments with the same speaker into blocks and
// drops empty ones. Diarization tends to split one utterance into many
// short segments.
func Clean(t *scriberr.Transcript) []Block {
	var blocks []Block
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if n := len(blocks); n > 0 && blocks[n-1].Speaker == seg.Speaker {
			blocks[n-1].Text += " " + text
			blocks[n-1].End = seg.End
			continue
		}
		blocks = append(blocks, Block{
			Speaker: seg.Speaker,
			Text:    text,
			Start:   seg.Start,
			End:     seg.End,
		})
	}
	return blocks
}

// Labels returns the distinct speaker labels in first-appearance order.
func Labels(blocks []Block) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, b := range blocks {
		if b.Speaker == "" || seen[b.Speaker] {
			continue
		}
		seen[b.Speaker] = true
		labels = append(labels, b.Speaker)
	}
	return labels
}

// FormatText renders blocks as a readable transcript, applying the names
// map where a label has one.
func FormatText(blocks []Block, names map[string]string) string {
	var b strings.Builder
	for _, block := range blocks {
		speaker := block.Speaker
		if name, ok := names[speaker]; ok && name != "" {
			speaker = name
		}
		if speaker == "" {
			speaker = "Unknown"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", formatOffset(block.Start), speaker, block.Text)
	}
	return b.String()
}

func formatOffset(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// SortedLabels returns map keys in stable order, for logs and prompts.
func SortedLabels(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
