// Package emotion implements the per-session affective state engine: a
// decay -> appraise -> physics -> record pipeline driven by stimuli from
// conversation turns, tool results, and other session activity.
package emotion

import (
	"context"
	"fmt"
	"time"

	"github.com/dere-run/dered/llm"
	"github.com/dere-run/dered/store"
)

const (
	stimulusHistoryCap   = 50
	stimulusContextLimit = 10
)

// Manager runs the appraisal pipeline and persists EmotionState through
// store. One Manager serves every session; state is initialized lazily
// from the store on first use, per session.
type Manager struct {
	store store.Store
	model llm.LLM
}

// New constructs a Manager. model may be nil, in which case appraisal is
// always skipped and only decay runs.
func New(st store.Store, model llm.LLM) *Manager {
	return &Manager{store: st, model: model}
}

// GetState returns a session's current emotion state, zero-valued if none
// exists yet.
func (m *Manager) GetState(ctx context.Context, sessionID string) (store.EmotionState, error) {
	s, err := m.store.GetEmotionState(ctx, sessionID)
	if err == store.ErrNotFound {
		return store.EmotionState{SessionID: sessionID, LastUpdate: time.Now().UTC()}, nil
	}
	if err != nil {
		return store.EmotionState{}, fmt.Errorf("emotion: get state: %w", err)
	}
	return s, nil
}

// ProcessStimulus runs the full pipeline for one stimulus: decay the
// existing state to now, appraise the stimulus through the configured
// model (skipped, with a logged warning, on failure or no model), apply
// physics to merge the appraisal into the state, record the stimulus in
// the bounded FIFO, and persist.
func (m *Manager) ProcessStimulus(ctx context.Context, sessionID string, valence, intensity float64, cf ContextFactors, description string, triggerCtx map[string]any) (store.EmotionState, error) {
	s, err := m.GetState(ctx, sessionID)
	if err != nil {
		return store.EmotionState{}, err
	}
	now := time.Now().UTC()
	s = decayState(s, now, cf)

	appraisal, err := appraiseStimulus(ctx, m.model, description)
	if err != nil {
		logAppraisalFailure(err)
	} else {
		recent, err := m.store.ListStimulusHistory(ctx, sessionID, stimulusContextLimit)
		if err != nil {
			recent = nil
		}
		physicsResult := applyPhysics(s, appraisal.Emotions, recent, now)
		s.Primary = physicsResult.Primary
		s.Secondary = physicsResult.Secondary
		s.OverallIntensity = physicsResult.OverallIntensity
		s.Appraisal = map[string]any{
			"event_outcome":    appraisal.EventOutcome,
			"agent_action":     appraisal.AgentAction,
			"object_attribute": appraisal.ObjectAttribute,
		}
	}
	s.Trigger = triggerCtx
	s.LastUpdate = now

	if err := m.store.AppendStimulus(ctx, sessionID, store.StimulusRecord{
		SessionID: sessionID,
		Valence:   valence,
		Intensity: intensity,
		Timestamp: now,
		Context:   triggerCtx,
	}, stimulusHistoryCap); err != nil {
		return store.EmotionState{}, fmt.Errorf("emotion: record stimulus: %w", err)
	}
	if err := m.store.UpdateEmotionState(ctx, s); err != nil {
		return store.EmotionState{}, fmt.Errorf("emotion: persist state: %w", err)
	}
	return s, nil
}

// Decay advances a session's state to now with no appraisal, for callers
// (e.g. a background tick) that only need to age out stale emotions.
func (m *Manager) Decay(ctx context.Context, sessionID string, cf ContextFactors) (store.EmotionState, error) {
	s, err := m.GetState(ctx, sessionID)
	if err != nil {
		return store.EmotionState{}, err
	}
	s = decayState(s, time.Now().UTC(), cf)
	if err := m.store.UpdateEmotionState(ctx, s); err != nil {
		return store.EmotionState{}, fmt.Errorf("emotion: persist decay: %w", err)
	}
	return s, nil
}

// GetCurrentDominantEmotion returns the highest-intensity non-neutral
// emotion, or nil if the session is in a neutral state.
func GetCurrentDominantEmotion(s store.EmotionState) *store.EmotionInstance {
	return s.Primary
}

// GetEmotionalStateSummary renders a short natural-language sentence
// describing the current state, for downstream prompt injection by
// session.Service.
func GetEmotionalStateSummary(s store.EmotionState) string {
	if s.Primary == nil {
		return "feeling neutral right now"
	}
	intensity := "a little"
	switch {
	case s.Primary.Intensity > 70:
		intensity = "intensely"
	case s.Primary.Intensity > 40:
		intensity = "noticeably"
	}
	label := string(s.Primary.Type)
	if s.Secondary != nil {
		return fmt.Sprintf("feeling %s %s, with a hint of %s", intensity, label, s.Secondary.Type)
	}
	return fmt.Sprintf("feeling %s %s", intensity, label)
}

// ContextFor implements session.EmotionContext: a short summary string
// injected as context for the first message of a new session.
func (m *Manager) ContextFor(ctx context.Context, sessionID string) (string, error) {
	s, err := m.GetState(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return GetEmotionalStateSummary(s), nil
}
