// Package analysis projects a session snapshot into the live analysis view
// shown alongside a practice session.
//
// Everything here is a pure read-side projection: derived speaking-rate and
// band figures, the fluency label, mistake highlights and the coaching tone.
// Nothing in this package writes back to the engine.
package analysis

import (
	"math"
	"strings"

	"github.com/fluentloop/fluentloop/internal/emotion"
	"github.com/fluentloop/fluentloop/internal/engine"
	"github.com/fluentloop/fluentloop/internal/mistake"
	"github.com/fluentloop/fluentloop/internal/scoring"
)

// Fluency labels by speaking-rate band.
const (
	labelGreat   = "great pace"
	labelGood    = "good pace"
	labelNatural = "speak naturally"
)

// View is the presentation model for one session, serialisable as JSON.
type View struct {
	Phase            string          `json:"phase"`
	Turns            []engine.Turn   `json:"turns"`
	Interim          string          `json:"interim,omitempty"`
	ElapsedSeconds   int64           `json:"elapsed_seconds"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	WordsPerMinute   float64         `json:"words_per_minute"`
	FluencyLabel     string          `json:"fluency_label"`
	Score            *scoring.Scores `json:"score,omitempty"`
	BandEstimate     float64         `json:"band_estimate,omitempty"`
	Highlights       []mistake.Span  `json:"highlights,omitempty"`
	Emotion          emotion.Signal  `json:"emotion"`
	CoachingTone     emotion.Tone    `json:"coaching_tone"`
}

// WordsPerMinute computes a speaking rate, treating a zero elapsed time as a
// zero rate rather than a division error.
func WordsPerMinute(wordCount int, elapsedSeconds int64) float64 {
	if elapsedSeconds <= 0 || wordCount <= 0 {
		return 0
	}
	return float64(wordCount) / (float64(elapsedSeconds) / 60)
}

// FluencyLabel buckets a speaking rate into the label shown to the learner.
func FluencyLabel(wpm float64) string {
	switch {
	case wpm >= 120:
		return labelGreat
	case wpm >= 80:
		return labelGood
	default:
		return labelNatural
	}
}

// BandEstimate maps an overall 0–100 score onto a 0–9 band, one decimal.
func BandEstimate(overall int) float64 {
	return math.Round(float64(overall)/100*9*10) / 10
}

// Project derives the live analysis view from a session snapshot.
func Project(snap engine.Snapshot) View {
	var userWords int
	var spoken []string
	for _, t := range snap.Turns {
		if t.Speaker != engine.SpeakerUser {
			continue
		}
		userWords += len(strings.Fields(t.Text))
		spoken = append(spoken, t.Text)
	}

	wpm := WordsPerMinute(userWords, snap.ElapsedSeconds)
	v := View{
		Phase:            snap.Phase.String(),
		Turns:            snap.Turns,
		Interim:          snap.Interim,
		ElapsedSeconds:   snap.ElapsedSeconds,
		RemainingSeconds: snap.RemainingSeconds,
		WordsPerMinute:   math.Round(wpm*10) / 10,
		FluencyLabel:     FluencyLabel(wpm),
		Score:            snap.Score,
		Emotion:          snap.Emotion,
		CoachingTone:     emotion.ToneFor(snap.Emotion),
	}
	if snap.Score != nil {
		v.BandEstimate = BandEstimate(snap.Score.Overall)
		v.Highlights = mistake.Highlight(strings.Join(spoken, " "), snap.Score.Mistakes)
	}
	return v
}
