// Package bond implements the per-user affection engine: a slow decay
// toward indifference punctuated by gains from recorded interactions.
package bond

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dere-run/dered/store"
)

// InteractionQuality classifies how meaningful a recorded interaction was.
type InteractionQuality string

const (
	QualityMinimal     InteractionQuality = "minimal"
	QualityStandard    InteractionQuality = "standard"
	QualityMeaningful  InteractionQuality = "meaningful"
	QualityExceptional InteractionQuality = "exceptional"
)

var baseGain = map[InteractionQuality]float64{
	QualityMinimal:     0.2,
	QualityStandard:    0.8,
	QualityMeaningful:  2.0,
	QualityExceptional: 4.0,
}

const (
	startingAffection = 50.0

	// decayThreshold is where the decay rate stops being flat: above it,
	// affection decays at baseDecayRate; below it, the rate rises
	// linearly toward maxDecayRate, the same "bounded exponential curve
	// with caps" idiom the teacher's restart backoff uses, applied here
	// to accelerate drift toward indifference once a bond is already
	// thin rather than to slow it.
	decayThreshold = 30.0
	baseDecayRate  = 0.5
	maxDecayRate   = 2.0

	streakBreakPenalty = 5.0
	distanceThreshold  = 15.0

	trendWindow      = 7 * 24 * time.Hour
	risingThreshold  = 3.0
	fallingThreshold = 3.0

	durationBonusMinutes = 5.0
	durationBonusScale   = 1.5
	durationBonusCap     = 6.0

	streakGainK   = 0.02
	streakGainCap = 0.5

	highBondThreshold  = 80.0
	diminishingFactor  = 0.4

	historyCap = 100
)

// Manager applies decay and records interactions against the per-user
// BondState held in the Store.
type Manager struct {
	store store.Store
}

// New constructs a Manager.
func New(st store.Store) *Manager {
	return &Manager{store: st}
}

// GetState returns the user's bond state, initializing it at the starting
// affection if none exists yet.
func (m *Manager) GetState(ctx context.Context, userID string) (store.BondState, error) {
	s, err := m.store.GetBondState(ctx, userID)
	if err == store.ErrNotFound {
		now := time.Now().UTC()
		s = store.BondState{
			UserID:            userID,
			Affection:         startingAffection,
			Trend:             store.TrendStable,
			LastInteractionAt: now,
		}
		if err := m.store.UpdateBondState(ctx, s); err != nil {
			return store.BondState{}, fmt.Errorf("bond: init state: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return store.BondState{}, fmt.Errorf("bond: get state: %w", err)
	}
	return s, nil
}

// ApplyDecay advances a user's bond state to now, reducing affection by
// elapsed time and resetting the interaction streak if more than one
// calendar day has passed since the last one.
func (m *Manager) ApplyDecay(ctx context.Context, userID string) (store.BondState, error) {
	s, err := m.GetState(ctx, userID)
	if err != nil {
		return store.BondState{}, err
	}
	now := time.Now().UTC()
	s = applyDecay(s, now)
	if err := m.store.UpdateBondState(ctx, s); err != nil {
		return store.BondState{}, fmt.Errorf("bond: persist decay: %w", err)
	}
	return s, nil
}

func applyDecay(s store.BondState, now time.Time) store.BondState {
	hours := now.Sub(s.LastInteractionAt).Hours()
	if hours < 0 {
		hours = 0
	}

	rate := baseDecayRate
	if s.Affection < decayThreshold {
		frac := (decayThreshold - s.Affection) / decayThreshold
		rate = baseDecayRate + frac*(maxDecayRate-baseDecayRate)
	}
	s.Affection = s.Affection * math.Exp(-rate*hours/100)

	if s.StreakLastDate != "" && calendarDay(now) != s.StreakLastDate {
		last, err := time.Parse("2006-01-02", s.StreakLastDate)
		if err == nil && now.Sub(last) >= 48*time.Hour {
			s.StreakDays = 0
			s.Affection -= streakBreakPenalty
		}
	}

	s.Affection = clamp(s.Affection, 0, 100)
	s = recordHistory(s, now, "decay")
	s.Trend = classifyTrend(s, now)
	return s
}

// RecordInteraction applies pending decay, then a quality-dependent gain
// (plus a duration bonus above 5 minutes, a streak multiplier, and
// diminishing returns near the top of the scale), and commits the result.
func (m *Manager) RecordInteraction(ctx context.Context, userID string, quality InteractionQuality, duration time.Duration) (store.BondState, error) {
	s, err := m.GetState(ctx, userID)
	if err != nil {
		return store.BondState{}, err
	}
	now := time.Now().UTC()
	s = applyDecay(s, now)
	s = recordInteraction(s, quality, duration, now)
	if err := m.store.UpdateBondState(ctx, s); err != nil {
		return store.BondState{}, fmt.Errorf("bond: persist interaction: %w", err)
	}
	return s, nil
}

func recordInteraction(s store.BondState, quality InteractionQuality, duration time.Duration, now time.Time) store.BondState {
	gain, ok := baseGain[quality]
	if !ok {
		gain = baseGain[QualityStandard]
	}

	if minutes := duration.Minutes(); minutes > durationBonusMinutes {
		bonus := math.Log(1+minutes-durationBonusMinutes) * durationBonusScale
		if bonus > durationBonusCap {
			bonus = durationBonusCap
		}
		gain += bonus
	}

	today := calendarDay(now)
	switch {
	case s.StreakLastDate == "":
		s.StreakDays = 1
	case s.StreakLastDate == today:
		// same day, streak unchanged
	default:
		last, err := time.Parse("2006-01-02", s.StreakLastDate)
		if err == nil && now.Sub(last) <= 48*time.Hour {
			s.StreakDays++
		} else {
			s.StreakDays = 1
		}
	}
	s.StreakLastDate = today

	multiplier := 1 + math.Min(float64(s.StreakDays)*streakGainK, streakGainCap)
	gain *= multiplier

	if s.Affection > highBondThreshold {
		gain *= diminishingFactor
	}

	s.Affection = clamp(s.Affection+gain, 0, 100)
	s.LastInteractionAt = now
	if quality == QualityMeaningful || quality == QualityExceptional {
		s.LastMeaningfulAt = &now
	}

	s = recordHistory(s, now, "interaction:"+string(quality))
	s.Trend = classifyTrend(s, now)
	return s
}

func recordHistory(s store.BondState, at time.Time, reason string) store.BondState {
	s.History = append(s.History, store.BondHistoryEntry{
		Timestamp: at,
		Affection: s.Affection,
		Reason:    reason,
	})
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}
	return s
}

// classifyTrend compares the current affection against the oldest history
// entry still inside the trailing trendWindow.
func classifyTrend(s store.BondState, now time.Time) store.BondTrend {
	if s.Affection < distanceThreshold {
		return store.TrendDistant
	}
	cutoff := now.Add(-trendWindow)
	var baseline *store.BondHistoryEntry
	for i := range s.History {
		if s.History[i].Timestamp.After(cutoff) {
			baseline = &s.History[i]
			break
		}
	}
	if baseline == nil {
		return store.TrendStable
	}
	diff := s.Affection - baseline.Affection
	switch {
	case diff > risingThreshold:
		return store.TrendRising
	case diff < -fallingThreshold:
		return store.TrendFalling
	default:
		return store.TrendStable
	}
}

// ContextFor implements session.BondContext: a short relationship summary
// injected as context for the first message of a new session. Applies
// decay first so the summary reflects time elapsed since the last
// interaction rather than a stale snapshot.
func (m *Manager) ContextFor(ctx context.Context, userID string) (string, error) {
	s, err := m.ApplyDecay(ctx, userID)
	if err != nil {
		return "", err
	}
	return bondSummary(s), nil
}

func bondSummary(s store.BondState) string {
	band := "warming up to"
	switch {
	case s.Affection >= highBondThreshold:
		band = "deeply bonded with"
	case s.Affection >= 50:
		band = "comfortable with"
	case s.Affection < distanceThreshold:
		band = "distant from"
	}
	trend := ""
	switch s.Trend {
	case store.TrendRising:
		trend = ", and growing closer lately"
	case store.TrendFalling:
		trend = ", and drifting apart lately"
	}
	streak := ""
	if s.StreakDays > 1 {
		streak = fmt.Sprintf(" (%d-day streak)", s.StreakDays)
	}
	return fmt.Sprintf("%s this user%s%s", band, trend, streak)
}

func calendarDay(t time.Time) string {
	return t.Format("2006-01-02")
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
