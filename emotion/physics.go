package emotion

import (
	"time"

	"github.com/dere-run/dered/store"
)

const (
	// moodBiasFactor is how much a dominant existing emotion nudges a
	// same-valence incoming emotion up, or an opposite-valence one down.
	moodBiasFactor = 0.1

	// personalityDriftFactor pulls every final intensity slightly toward
	// the midpoint, representing a baseline temperament that resists
	// being pushed to either extreme by a single stimulus.
	personalityDriftFactor = 0.05

	// similarStimulusWindow bounds how far back into the stimulus FIFO
	// diminishing returns looks for a same-valence repeat.
	similarStimulusWindow = 5
)

// applyPhysics merges freshly appraised emotions into a post-decay state:
// momentum resistance against the existing value of the same type,
// valence competition against the opposite-valence slot, diminishing
// returns when recent stimuli already pushed the same direction, a mood
// bias from the currently dominant emotion, and a personality-drift pull
// toward the midpoint. The two highest-intensity resulting instances
// become Primary/Secondary.
func applyPhysics(s store.EmotionState, appraised []AppraisedEmotion, recent []store.StimulusRecord, now time.Time) store.EmotionState {
	if len(appraised) == 0 {
		return s
	}

	dominant := dominantType(s)
	candidates := existingInstances(s)

	for _, e := range appraised {
		t := store.EmotionType(e.Type)
		profile := profileFor(t)

		existing := candidates[t]
		existingIntensity := 0.0
		if existing != nil {
			existingIntensity = existing.Intensity
		}

		delta := e.Intensity - existingIntensity
		damped := delta * (1 - profile.Resilience*(existingIntensity/100))
		value := existingIntensity + damped

		if opp := oppositeDominant(s, t); opp != nil {
			value -= opp.Intensity * 0.2
		}

		if recentSimilarCount(recent, t, now) > 0 {
			value *= 0.85
		}

		if dominant != "" {
			if isNegative(dominant) == isNegative(t) {
				value *= 1 + moodBiasFactor
			} else {
				value *= 1 - moodBiasFactor
			}
		}

		value -= (value - 50) * personalityDriftFactor

		value = clamp(value, 0, 100)
		if value < removalThreshold {
			delete(candidates, t)
			continue
		}
		candidates[t] = &store.EmotionInstance{Type: t, Intensity: value, Reason: e.Reason, UpdatedAt: now}
	}

	return topTwo(candidates)
}

func existingInstances(s store.EmotionState) map[store.EmotionType]*store.EmotionInstance {
	m := make(map[store.EmotionType]*store.EmotionInstance, 2)
	if s.Primary != nil {
		m[s.Primary.Type] = s.Primary
	}
	if s.Secondary != nil {
		m[s.Secondary.Type] = s.Secondary
	}
	return m
}

func dominantType(s store.EmotionState) store.EmotionType {
	if s.Primary != nil {
		return s.Primary.Type
	}
	return ""
}

// oppositeDominant returns the current dominant instance only if its
// valence opposes t, so valence competition only fires across the
// positive/negative divide.
func oppositeDominant(s store.EmotionState, t store.EmotionType) *store.EmotionInstance {
	if s.Primary == nil || s.Primary.Type == t {
		return nil
	}
	if isNegative(s.Primary.Type) == isNegative(t) {
		return nil
	}
	return s.Primary
}

func recentSimilarCount(recent []store.StimulusRecord, t store.EmotionType, now time.Time) int {
	negative := isNegative(t)
	count := 0
	start := len(recent) - similarStimulusWindow
	if start < 0 {
		start = 0
	}
	for _, r := range recent[start:] {
		if (r.Valence < 0) == negative {
			count++
		}
	}
	return count
}

func topTwo(candidates map[store.EmotionType]*store.EmotionInstance) store.EmotionState {
	var out store.EmotionState
	var first, second *store.EmotionInstance
	for _, c := range candidates {
		switch {
		case first == nil || c.Intensity > first.Intensity:
			second = first
			first = c
		case second == nil || c.Intensity > second.Intensity:
			second = c
		}
	}
	out.Primary = first
	out.Secondary = second
	out.OverallIntensity = combinedIntensity(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
