// Package rareevent implements the background rare-event generator: a
// periodic probabilistic draw over candidate UI-bound events, modulated
// by the current bond/emotion/activity snapshot for one user.
package rareevent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dere-run/dered/bond"
	"github.com/dere-run/dered/emotion"
	"github.com/dere-run/dered/store"
)

const (
	defaultInterval = 5 * time.Minute
	defaultCooldown = 2 * time.Hour
	defaultDailyCap = 3
)

// Snapshot is the dashboard state a candidate's probability and content
// hint are computed from.
type Snapshot struct {
	UserID           string
	Affection        float64
	Trend            store.BondTrend
	StreakDays       int
	DominantEmotion  store.EmotionType
	EmotionIntensity float64
	TimeOfDayBand    string
	ActivityCategory string
}

// Candidate is one drawable rare-event type.
type Candidate struct {
	EventType   string
	Probability func(Snapshot) float64
	ContentHint func(Snapshot) map[string]any
}

// Config tunes the generator's wake interval and per-user rate limits.
type Config struct {
	Interval time.Duration
	Cooldown time.Duration
	DailyCap int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.DailyCap <= 0 {
		c.DailyCap = defaultDailyCap
	}
	return c
}

// Generator runs the periodic draw. Grounded on mission/scheduler.go's
// time.Ticker + cooperative-shutdown shape, the same background-tick
// idiom reused for a second, unrelated periodic loop.
type Generator struct {
	store      store.Store
	bond       *bond.Manager
	emotion    *emotion.Manager
	cfg        Config
	candidates []Candidate

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	onCreate func(store.RareEvent)
}

func NewGenerator(st store.Store, bondMgr *bond.Manager, emotionMgr *emotion.Manager, cfg Config) *Generator {
	return &Generator{
		store:      st,
		bond:       bondMgr,
		emotion:    emotionMgr,
		cfg:        cfg.withDefaults(),
		candidates: defaultCandidates(),
	}
}

// OnCreate registers fn to be called, synchronously within the tick loop,
// whenever a new rare event is drawn and persisted. Used by cmd/dered to
// fan new events out over the event bus without this package depending on
// it directly.
func (g *Generator) OnCreate(fn func(store.RareEvent)) {
	g.mu.Lock()
	g.onCreate = fn
	g.mu.Unlock()
}

// Subject identifies one user (and their representative session, for
// emotion state) the generator should consider on each tick.
type Subject struct {
	UserID           string
	SessionID        string
	ActivityCategory string
}

// Start runs the wake loop until ctx is cancelled or Stop is called.
// subjects is called fresh each tick so newly active users are picked up
// without restarting the generator.
func (g *Generator) Start(ctx context.Context, subjects func() []Subject) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	g.mu.Unlock()

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	defer close(g.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case <-ticker.C:
			for _, subj := range subjects() {
				if err := g.tick(ctx, subj); err != nil {
					slog.Error("rareevent: tick failed", "user_id", subj.UserID, "error", err)
				}
			}
		}
	}
}

// Stop signals the loop to exit and waits for it to do so.
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	stop, done := g.stop, g.done
	g.running = false
	g.mu.Unlock()
	close(stop)
	<-done
}

// tick evaluates one subject: cooldown/daily-cap gate, snapshot, draw.
func (g *Generator) tick(ctx context.Context, subj Subject) error {
	pending, err := g.store.ListPendingRareEvents(ctx, subj.UserID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if gated(pending, now, g.cfg.Cooldown, g.cfg.DailyCap) {
		return nil
	}

	snap, err := g.snapshot(ctx, subj, now)
	if err != nil {
		return err
	}

	for _, c := range g.candidates {
		p := c.Probability(snap)
		if p <= 0 {
			continue
		}
		if rand.Float64() < p {
			ev := store.RareEvent{
				ID:            newEventID(),
				UserID:        subj.UserID,
				EventType:     c.EventType,
				ContentHint:   c.ContentHint(snap),
				TriggerReason: c.EventType,
				TriggerContext: map[string]any{
					"affection":         snap.Affection,
					"trend":             snap.Trend,
					"dominant_emotion":  snap.DominantEmotion,
					"emotion_intensity": snap.EmotionIntensity,
					"time_of_day":       snap.TimeOfDayBand,
					"activity":          snap.ActivityCategory,
				},
				CreatedAt: now,
			}
			if err := g.store.CreateRareEvent(ctx, ev); err != nil {
				return err
			}
			g.mu.Lock()
			onCreate := g.onCreate
			g.mu.Unlock()
			if onCreate != nil {
				onCreate(ev)
			}
			return nil
		}
	}
	return nil
}

// gated reports whether a cooldown or daily cap blocks drawing right now.
func gated(pending []store.RareEvent, now time.Time, cooldown time.Duration, dailyCap int) bool {
	dayCount := 0
	var mostRecent time.Time
	for _, e := range pending {
		if e.CreatedAt.After(mostRecent) {
			mostRecent = e.CreatedAt
		}
		if now.Sub(e.CreatedAt) < 24*time.Hour {
			dayCount++
		}
	}
	if !mostRecent.IsZero() && now.Sub(mostRecent) < cooldown {
		return true
	}
	return dayCount >= dailyCap
}

func (g *Generator) snapshot(ctx context.Context, subj Subject, now time.Time) (Snapshot, error) {
	bondState, err := g.bond.GetState(ctx, subj.UserID)
	if err != nil {
		return Snapshot{}, err
	}
	var dominant store.EmotionType
	var intensity float64
	if subj.SessionID != "" {
		emotionState, err := g.emotion.GetState(ctx, subj.SessionID)
		if err == nil && emotionState.Primary != nil {
			dominant = emotionState.Primary.Type
			intensity = emotionState.Primary.Intensity
		}
	}
	return Snapshot{
		UserID:           subj.UserID,
		Affection:        bondState.Affection,
		Trend:            bondState.Trend,
		StreakDays:       bondState.StreakDays,
		DominantEmotion:  dominant,
		EmotionIntensity: intensity,
		TimeOfDayBand:    timeOfDayBand(now),
		ActivityCategory: subj.ActivityCategory,
	}, nil
}

func timeOfDayBand(t time.Time) string {
	h := t.Hour()
	switch {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}

func newEventID() string {
	return fmt.Sprintf("revt_%s", uuid.NewString())
}
