// Package emotion derives a lightweight emotional signal from what a learner
// said and how they said it.
//
// The analysis is deliberately shallow: keyword buckets over the transcript
// plus speaking-rate and pause heuristics. It produces a coaching hint, not a
// clinical assessment, and it must stay cheap enough to run on every user
// turn. All functions are pure.
package emotion

import (
	"strings"
	"time"
)

// Emotion labels produced by Analyze.
const (
	EmotionNeutral    = "neutral"
	EmotionFrustrated = "frustrated"
	EmotionConfident  = "confident"
	EmotionExcited    = "excited"
	EmotionTired      = "tired"
	EmotionStressed   = "stressed"
)

// Energy levels produced by Analyze.
const (
	EnergyLow    = "low"
	EnergyMedium = "medium"
	EnergyHigh   = "high"
)

// Sentiment labels produced by Analyze.
const (
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentPositive = "positive"
)

// Signal is the result of analysing one user turn.
type Signal struct {
	// Emotion is the dominant bucket, or "neutral" when nothing dominates.
	Emotion string

	// Confidence is how strongly the dominant bucket won, in [0, 1].
	Confidence float64

	// Energy classifies the speaking rate.
	Energy string

	// Sentiment is the overall polarity of the wording.
	Sentiment string
}

// Tone is a coaching posture derived from a Signal.
type Tone struct {
	// Tone is the voice register the coach should take.
	Tone string

	// Pacing is "slower", "normal" or "faster".
	Pacing string

	// Encouragement is a short line the coach may weave into its reply.
	Encouragement string
}

// Per-hit weight and the dominance threshold for keyword buckets. Two hits
// in a bucket are a clear signal; a single hit only just clears the bar.
const (
	hitWeight          = 0.3
	dominanceThreshold = 0.2
)

// Speaking-rate bands in words per minute, and the confidence reducers the
// voice heuristics apply.
const (
	lowRateWPM  = 80
	highRateWPM = 150

	rushPenalty  = 0.1
	pausePenalty = 0.15

	// pauseRatioThreshold is the pauses-per-word ratio above which speech
	// reads as halting.
	pauseRatioThreshold = 0.2

	// pauseMinWindow is the minimum speaking time before the pause heuristic
	// applies; very short turns carry too few pauses to mean anything.
	pauseMinWindow = 3 * time.Second
)

// emotionKeywords is ordered so that ties resolve the same way every run.
var emotionKeywords = []struct {
	emotion string
	words   []string
}{
	{EmotionFrustrated, []string{"can't", "cannot", "hard", "difficult", "stuck", "impossible", "give up", "frustrat", "annoying"}},
	{EmotionStressed, []string{"stress", "worried", "nervous", "anxious", "afraid", "scared"}},
	{EmotionTired, []string{"tired", "sleepy", "exhausted", "long day", "worn out"}},
	{EmotionConfident, []string{"i know", "easy", "sure", "definitely", "of course", "no problem"}},
	{EmotionExcited, []string{"love", "awesome", "amazing", "great", "fun", "excited", "wow"}},
}

var negativeWords = []string{
	"can't", "cannot", "hard", "difficult", "bad", "wrong", "hate",
	"never", "impossible", "terrible", "awful", "worse", "worst",
}

var positiveWords = []string{
	"great", "good", "love", "easy", "fun", "happy", "nice",
	"awesome", "amazing", "better", "best",
}

// Analyze derives a Signal from the transcript of one user turn plus basic
// voice statistics. speaking is the elapsed speaking time, wordCount the
// number of words in the turn and pauseCount the number of silent gaps the
// recogniser reported within it.
func Analyze(text string, speaking time.Duration, wordCount, pauseCount int) Signal {
	lower := strings.ToLower(text)

	sig := Signal{
		Emotion:   EmotionNeutral,
		Energy:    EnergyMedium,
		Sentiment: analyzeSentiment(lower),
	}

	// Keyword buckets: the bucket with the highest weighted hit count wins
	// if it clears the dominance threshold.
	best := 0.0
	for _, bucket := range emotionKeywords {
		score := 0.0
		for _, w := range bucket.words {
			if strings.Contains(lower, w) {
				score += hitWeight
			}
		}
		if score > 1 {
			score = 1
		}
		if score > best {
			best = score
			sig.Emotion = bucket.emotion
		}
	}
	if best < dominanceThreshold {
		sig.Emotion = EmotionNeutral
		best = 0
	}
	sig.Confidence = best

	// Voice analysis: speaking rate sets energy and modulates confidence.
	wpm := wordsPerMinute(wordCount, speaking)
	switch {
	case wpm == 0:
		// No voice data for this turn; keep the text-only reading.
	case wpm < lowRateWPM:
		sig.Energy = EnergyLow
		if sig.Emotion == EmotionNeutral && sig.Sentiment == SentimentNegative {
			sig.Emotion = EmotionTired
			sig.Confidence = dominanceThreshold
		}
	case wpm > highRateWPM:
		sig.Energy = EnergyHigh
		// Rushed speech makes the keyword reading less trustworthy.
		sig.Confidence -= rushPenalty
	default:
		// Middle band: energy stays medium while the rushed-speech penalty
		// ramps in linearly toward the fast edge.
		sig.Confidence -= rushPenalty * (wpm - lowRateWPM) / (highRateWPM - lowRateWPM)
	}

	// Frequent pauses over a long enough turn suggest hesitation and weaken
	// the signal further.
	if speaking >= pauseMinWindow && wordCount > 0 &&
		float64(pauseCount)/float64(wordCount) > pauseRatioThreshold {
		sig.Confidence -= pausePenalty
	}

	if sig.Confidence < 0 {
		sig.Confidence = 0
	}
	if sig.Confidence > 1 {
		sig.Confidence = 1
	}
	return sig
}

// analyzeSentiment returns the polarity of the lowercased text. A side needs
// a margin of two hits over the other to leave neutral, which keeps single
// stray words from flipping the label.
func analyzeSentiment(lower string) string {
	neg, pos := 0, 0
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	switch {
	case neg >= pos+2:
		return SentimentNegative
	case pos >= neg+2:
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

func wordsPerMinute(wordCount int, speaking time.Duration) float64 {
	if speaking <= 0 || wordCount <= 0 {
		return 0
	}
	return float64(wordCount) / speaking.Minutes()
}

// ToneFor maps a Signal to the coaching posture the session should adopt for
// the next agent turn.
func ToneFor(sig Signal) Tone {
	switch sig.Emotion {
	case EmotionFrustrated:
		return Tone{
			Tone:          "warm",
			Pacing:        "slower",
			Encouragement: "It's okay to make mistakes, that's how we learn. Take your time.",
		}
	case EmotionTired:
		return Tone{
			Tone:          "warm",
			Pacing:        "slower",
			Encouragement: "Let's keep it light today. Short answers are fine.",
		}
	case EmotionStressed:
		return Tone{
			Tone:          "calm",
			Pacing:        "slower",
			Encouragement: "No rush at all. We can go one step at a time.",
		}
	case EmotionConfident:
		return Tone{
			Tone:          "upbeat",
			Pacing:        "normal",
			Encouragement: "You're doing great. Ready to try something a little harder?",
		}
	case EmotionExcited:
		return Tone{
			Tone:          "upbeat",
			Pacing:        "faster",
			Encouragement: "Love the energy! Keep it going.",
		}
	default:
		return Tone{
			Tone:          "friendly",
			Pacing:        "normal",
			Encouragement: "Keep going, you're doing well.",
		}
	}
}
