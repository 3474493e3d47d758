// Package format renders a normalized transcript into the output formats a
// job can request. Rendering is pure: no I/O, deterministic for a given
// transcript.
package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hossjar/transcription-service/internal/faults"
	"github.com/hossjar/transcription-service/internal/models"
)

// Cue segmentation thresholds for SRT output.
const (
	maxCueDuration   = 7.0  // seconds accumulated before a forced close
	maxCueWords      = 15   // word tokens accumulated before a forced close
	minSentenceCue   = 1.0  // minimum duration for a punctuation close
	maxSilenceBridge = 0.5  // seconds of silence a cue may span
)

// Render converts the transcript into the requested output format.
// An unsupported format is a configuration error; the orchestrator checks it
// before any provider call, so hitting it here means a programming mistake
// upstream but the behavior is the same.
func Render(t *models.Transcript, f models.OutputFormat) (string, error) {
	switch f {
	case models.FormatText:
		return renderText(t), nil
	case models.FormatSRT:
		return renderSRT(t), nil
	case models.FormatStructured:
		return renderStructured(t)
	default:
		return "", faults.New(faults.Config, nil, "unsupported output format %q", f)
	}
}

// renderText joins word tokens with single spaces. With speaker labels
// present, a new line starts whenever the speaker changes and each line is
// prefixed with the speaker id.
func renderText(t *models.Transcript) string {
	var b strings.Builder
	speaker := ""
	lineOpen := false
	for _, tok := range t.Tokens {
		if tok.Kind != models.TokenWord {
			continue
		}
		switch {
		case !lineOpen:
			if tok.Speaker != "" {
				b.WriteString(tok.Speaker + ": ")
			}
			lineOpen = true
		case tok.Speaker != speaker && tok.Speaker != "":
			b.WriteString("\n" + tok.Speaker + ": ")
		default:
			b.WriteString(" ")
		}
		b.WriteString(tok.Text)
		speaker = tok.Speaker
	}
	return strings.TrimSpace(b.String())
}

// cue is one accumulating subtitle entry.
type cue struct {
	tokens  []models.Token
	words   int
	speaker string
}

func (c *cue) empty() bool { return len(c.tokens) == 0 }

func (c *cue) duration() float64 {
	if c.empty() {
		return 0
	}
	return c.tokens[len(c.tokens)-1].End - c.tokens[0].Start
}

func (c *cue) add(tok models.Token) {
	c.tokens = append(c.tokens, tok)
	if tok.Kind == models.TokenWord {
		c.words++
	}
	if tok.Speaker != "" {
		c.speaker = tok.Speaker
	}
}

// closeAfter reports whether the cue must be emitted after the token just
// appended.
func (c *cue) closeAfter() bool {
	if c.duration() >= maxCueDuration {
		return true
	}
	if c.words >= maxCueWords {
		return true
	}
	last := c.tokens[len(c.tokens)-1].Text
	if endsSentence(last) && c.duration() >= minSentenceCue {
		return true
	}
	return false
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") ||
		strings.HasSuffix(text, "!") ||
		strings.HasSuffix(text, "?")
}

// renderSRT segments tokens into numbered cues with a greedy scan.
// Cue boundaries come from accumulated duration, word count, terminal
// punctuation, long silences between tokens, and speaker changes. Start and
// end times are always taken from real tokens, never synthesized.
func renderSRT(t *models.Transcript) string {
	var b strings.Builder
	index := 0
	current := &cue{}

	flush := func() {
		if current.empty() {
			return
		}
		index++
		start := current.tokens[0].Start
		end := current.tokens[len(current.tokens)-1].End
		texts := make([]string, 0, len(current.tokens))
		for _, tok := range current.tokens {
			texts = append(texts, tok.Text)
		}
		line := strings.Join(texts, " ")
		if current.speaker != "" {
			line = current.speaker + ": " + line
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", index, srtTimestamp(start), srtTimestamp(end), line)
		current = &cue{}
	}

	for i, tok := range t.Tokens {
		// A speaker change ends the running cue immediately, even a short one.
		if !current.empty() && tok.Speaker != "" && current.speaker != "" && tok.Speaker != current.speaker {
			flush()
		}
		current.add(tok)
		if current.closeAfter() {
			flush()
			continue
		}
		// Do not bridge long silences into one cue.
		if i+1 < len(t.Tokens) && t.Tokens[i+1].Start-tok.End > maxSilenceBridge {
			flush()
		}
	}
	flush()
	return b.String()
}

// srtTimestamp formats seconds as HH:MM:SS,mmm with millisecond truncation.
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	// The epsilon counters float64 representation error (0.07*1000 ==
	// 69.999...); anything below a millisecond is still truncated.
	ms := int64(seconds*1000 + 1e-6)
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// renderStructured serializes the full transcript, timing and speaker
// metadata included, as indented JSON.
func renderStructured(t *models.Transcript) (string, error) {
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return string(out), nil
}
