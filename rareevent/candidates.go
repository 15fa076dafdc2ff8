package rareevent

import "github.com/dere-run/dered/store"

const (
	eventGreeting      = "greeting"
	eventProductivity  = "productivity_note"
	eventIdleObserve   = "idle_observation"
	eventMoodShift     = "mood_shift"
	eventBondMemory    = "bond_memory"
)

// defaultCandidates implements the five candidate families the spec
// names: morning/evening greetings, productive-activity notes, long-idle
// observations, high-intensity mood shifts, and high-bond memories. Each
// probability is independent and small; tick() draws them in order and
// stops at the first success.
func defaultCandidates() []Candidate {
	return []Candidate{
		{
			EventType: eventGreeting,
			Probability: func(s Snapshot) float64 {
				if s.TimeOfDayBand == "morning" || s.TimeOfDayBand == "evening" {
					return 0.04
				}
				return 0
			},
			ContentHint: func(s Snapshot) map[string]any {
				return map[string]any{"band": s.TimeOfDayBand}
			},
		},
		{
			EventType: eventProductivity,
			Probability: func(s Snapshot) float64 {
				if s.ActivityCategory == "coding" || s.ActivityCategory == "working" {
					return 0.03
				}
				return 0
			},
			ContentHint: func(s Snapshot) map[string]any {
				return map[string]any{"activity": s.ActivityCategory}
			},
		},
		{
			EventType: eventIdleObserve,
			Probability: func(s Snapshot) float64 {
				if s.ActivityCategory == "idle" {
					return 0.02
				}
				return 0
			},
			ContentHint: func(s Snapshot) map[string]any {
				return map[string]any{"activity": "idle"}
			},
		},
		{
			EventType: eventMoodShift,
			Probability: func(s Snapshot) float64 {
				if s.EmotionIntensity > 70 {
					return 0.05
				}
				return 0
			},
			ContentHint: func(s Snapshot) map[string]any {
				return map[string]any{"emotion": s.DominantEmotion, "intensity": s.EmotionIntensity}
			},
		},
		{
			EventType: eventBondMemory,
			Probability: func(s Snapshot) float64 {
				if s.Affection > 80 && s.Trend != store.TrendFalling && s.Trend != store.TrendDistant {
					return 0.02
				}
				return 0
			},
			ContentHint: func(s Snapshot) map[string]any {
				return map[string]any{"affection": s.Affection, "streak_days": s.StreakDays}
			},
		},
	}
}
