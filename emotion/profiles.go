package emotion

import (
	"time"

	"github.com/dere-run/dered/store"
)

// OCC-taxonomy emotion labels (Ortony/Clore/Collins), restricted to the
// subset actually useful for a personality-layered companion: well-being,
// prospect-based, attribution, and attraction emotions. Each carries a
// sign used by valence competition in physics.go.
const (
	Joy             store.EmotionType = "joy"
	Distress        store.EmotionType = "distress"
	Hope            store.EmotionType = "hope"
	Fear            store.EmotionType = "fear"
	Satisfaction    store.EmotionType = "satisfaction"
	FearsConfirmed  store.EmotionType = "fears_confirmed"
	Relief          store.EmotionType = "relief"
	Disappointment  store.EmotionType = "disappointment"
	Pride           store.EmotionType = "pride"
	Shame           store.EmotionType = "shame"
	Admiration      store.EmotionType = "admiration"
	Reproach        store.EmotionType = "reproach"
	Gratitude       store.EmotionType = "gratitude"
	Anger           store.EmotionType = "anger"
	Love            store.EmotionType = "love"
	Gratification   store.EmotionType = "gratification"
	Remorse         store.EmotionType = "remorse"
)

// DecayProfile governs how one emotion type fades over wall-clock time.
type DecayProfile struct {
	BaseRate           float64       // intensity units lost per hour at baseline context
	HalfLife           time.Duration // informational; BaseRate is what's actually applied
	MinPersistence     float64       // floor an emotion decays toward rather than through, while above the removal threshold
	Resilience         float64       // 0..1, dampens how much momentum resistance allows rapid swings
	ContextSensitivity float64       // 0..1, how much context factors modulate BaseRate
}

var profiles = map[store.EmotionType]DecayProfile{
	Joy:            {BaseRate: 4.0, HalfLife: 3 * time.Hour, MinPersistence: 0, Resilience: 0.3, ContextSensitivity: 0.6},
	Distress:       {BaseRate: 3.0, HalfLife: 4 * time.Hour, MinPersistence: 0, Resilience: 0.5, ContextSensitivity: 0.7},
	Hope:           {BaseRate: 5.0, HalfLife: 2 * time.Hour, MinPersistence: 0, Resilience: 0.2, ContextSensitivity: 0.5},
	Fear:           {BaseRate: 6.0, HalfLife: 1 * time.Hour, MinPersistence: 0, Resilience: 0.4, ContextSensitivity: 0.8},
	Satisfaction:   {BaseRate: 2.5, HalfLife: 5 * time.Hour, MinPersistence: 0, Resilience: 0.3, ContextSensitivity: 0.4},
	FearsConfirmed: {BaseRate: 3.0, HalfLife: 4 * time.Hour, MinPersistence: 0, Resilience: 0.5, ContextSensitivity: 0.6},
	Relief:         {BaseRate: 6.0, HalfLife: 1 * time.Hour, MinPersistence: 0, Resilience: 0.2, ContextSensitivity: 0.3},
	Disappointment: {BaseRate: 2.5, HalfLife: 5 * time.Hour, MinPersistence: 0, Resilience: 0.5, ContextSensitivity: 0.6},
	Pride:          {BaseRate: 2.0, HalfLife: 6 * time.Hour, MinPersistence: 0, Resilience: 0.4, ContextSensitivity: 0.3},
	Shame:          {BaseRate: 2.0, HalfLife: 6 * time.Hour, MinPersistence: 0, Resilience: 0.6, ContextSensitivity: 0.7},
	Admiration:     {BaseRate: 1.5, HalfLife: 8 * time.Hour, MinPersistence: 0, Resilience: 0.3, ContextSensitivity: 0.4},
	Reproach:       {BaseRate: 2.5, HalfLife: 5 * time.Hour, MinPersistence: 0, Resilience: 0.5, ContextSensitivity: 0.6},
	Gratitude:      {BaseRate: 1.5, HalfLife: 8 * time.Hour, MinPersistence: 0, Resilience: 0.3, ContextSensitivity: 0.4},
	Anger:          {BaseRate: 5.0, HalfLife: 2 * time.Hour, MinPersistence: 0, Resilience: 0.6, ContextSensitivity: 0.8},
	Love:           {BaseRate: 0.5, HalfLife: 24 * time.Hour, MinPersistence: 5, Resilience: 0.2, ContextSensitivity: 0.2},
	Gratification:  {BaseRate: 2.0, HalfLife: 6 * time.Hour, MinPersistence: 0, Resilience: 0.3, ContextSensitivity: 0.3},
	Remorse:        {BaseRate: 2.0, HalfLife: 6 * time.Hour, MinPersistence: 0, Resilience: 0.6, ContextSensitivity: 0.6},
}

// negativeValence classifies emotions whose valence competes against
// positive ones in physics.go. Anything not listed is treated as positive.
var negativeValence = map[store.EmotionType]bool{
	Distress: true, Fear: true, FearsConfirmed: true, Disappointment: true,
	Shame: true, Reproach: true, Anger: true, Remorse: true,
}

func isNegative(t store.EmotionType) bool {
	return negativeValence[t]
}

func profileFor(t store.EmotionType) DecayProfile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return DecayProfile{BaseRate: 3.0, HalfLife: 4 * time.Hour, Resilience: 0.4, ContextSensitivity: 0.5}
}
