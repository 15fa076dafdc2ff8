package emotion

import (
	"time"

	"github.com/dere-run/dered/store"
)

// removalThreshold is the intensity floor below which a decaying emotion
// (with no MinPersistence of its own) is dropped entirely rather than
// lingering at a near-zero intensity forever.
const removalThreshold = 3.0

// ContextFactors modulate decay rate and appraisal physics. All fields
// besides UserPresent/UserEngaged/TimeOfDayBand are expected in [0, 1].
type ContextFactors struct {
	UserPresent         bool
	UserEngaged         bool
	RecentActivityLevel float64
	EnvironmentalStress float64
	SocialSupport       float64
	TimeOfDayBand       string // "morning", "afternoon", "evening", "night"
}

// contextMultiplier returns a decay-rate multiplier around 1.0: isolation
// and stress speed decay (nothing reinforcing the feeling), engagement
// and social support slow it.
func contextMultiplier(cf ContextFactors) float64 {
	m := 1.0
	if !cf.UserPresent {
		m += 0.3
	}
	if cf.UserEngaged {
		m -= 0.2
	}
	m += 0.3 * cf.EnvironmentalStress
	m -= 0.3 * cf.SocialSupport
	if cf.TimeOfDayBand == "night" {
		m += 0.15
	}
	if m < 0.2 {
		m = 0.2
	}
	return m
}

// decayInstance advances one emotion instance by elapsed time, returning
// nil if it has decayed past removal. A nil input returns nil.
func decayInstance(inst *store.EmotionInstance, now time.Time, cf ContextFactors) *store.EmotionInstance {
	if inst == nil {
		return nil
	}
	profile := profileFor(inst.Type)
	hours := now.Sub(inst.UpdatedAt).Hours()
	if hours <= 0 {
		return inst
	}
	rate := profile.BaseRate * (1 + (contextMultiplier(cf)-1)*profile.ContextSensitivity)
	next := inst.Intensity - rate*hours
	if next < profile.MinPersistence {
		next = profile.MinPersistence
	}
	if next < removalThreshold && profile.MinPersistence == 0 {
		return nil
	}
	inst.Intensity = next
	inst.UpdatedAt = now
	return inst
}

// decayState applies decayInstance to both slots of a state in place.
func decayState(s store.EmotionState, now time.Time, cf ContextFactors) store.EmotionState {
	s.Primary = decayInstance(s.Primary, now, cf)
	s.Secondary = decayInstance(s.Secondary, now, cf)
	s.OverallIntensity = combinedIntensity(s)
	s.LastUpdate = now
	return s
}

func combinedIntensity(s store.EmotionState) float64 {
	total := 0.0
	if s.Primary != nil {
		total += s.Primary.Intensity
	}
	if s.Secondary != nil {
		total += 0.5 * s.Secondary.Intensity
	}
	if total > 100 {
		total = 100
	}
	return total
}
