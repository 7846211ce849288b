package playback

import (
	"fmt"
	"sort"
	"time"

	"adstream/internal/models"
	"adstream/shared/config"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// SkipPolicy holds the skip countdown length, in one-second ticks, per creative kind
type SkipPolicy map[models.CreativeKind]int

// NewSkipPolicy builds the policy from player settings
func NewSkipPolicy(cfg config.PlayerConfig) SkipPolicy {
	return SkipPolicy{
		models.CreativeCatalog: cfg.SkipCountdownSeconds,
		models.CreativeInline:  cfg.InlineSkipCountdownSeconds,
	}
}

func (p SkipPolicy) CountdownFor(kind models.CreativeKind) int {
	n := p[kind]
	if n < 0 {
		return 0
	}
	return n
}

// Interlock arbitrates between main content and ads. It is not safe for
// concurrent use: a Session drives it from a single goroutine.
type Interlock struct {
	main          MainSurface
	ad            AdSurface
	observer      Observer
	clock         clockwork.Clock
	logger        *zap.Logger
	defaultWindow float64
	skip          SkipPolicy

	schedule []*models.AdSlot
	showing  bool
	current  *models.AdSlot

	skipRemaining int
	ticker        clockwork.Ticker
	countdownGen  uint64

	// last slot reported as blocked by an unready ad surface
	blocked *models.AdSlot
}

func NewInterlock(cfg config.PlayerConfig, main MainSurface, ad AdSurface, observer Observer, clock clockwork.Clock, logger *zap.Logger) *Interlock {
	if observer == nil {
		observer = nopObserver{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interlock{
		main:          main,
		ad:            ad,
		observer:      observer,
		clock:         clock,
		logger:        logger,
		defaultWindow: cfg.DefaultWindowSeconds,
		skip:          NewSkipPolicy(cfg),
	}
}

// Load replaces the schedule wholesale
func (il *Interlock) Load(slots []*models.AdSlot) {
	il.schedule = slots
	il.blocked = nil
}

// TimeUpdate evaluates the schedule at main-content time t. An ad already
// showing is never interrupted, and ads only end on explicit dismissal.
func (il *Interlock) TimeUpdate(t float64) error {
	if len(il.schedule) == 0 || il.showing {
		return nil
	}

	slot := il.selectSlot(t)
	if slot == nil {
		return nil
	}
	return il.startAd(slot)
}

// selectSlot returns the eligible slot with the earliest timestamp; the
// first one in schedule order wins a tie.
func (il *Interlock) selectSlot(t float64) *models.AdSlot {
	var best *models.AdSlot
	for _, slot := range il.schedule {
		if slot == nil || !slot.EligibleAt(t, il.defaultWindow) {
			continue
		}
		if best == nil || slot.TimestampSeconds < best.TimestampSeconds {
			best = slot
		}
	}
	return best
}

func (il *Interlock) startAd(slot *models.AdSlot) error {
	log := il.logger.With(zap.String("ad_id", slot.ID()), zap.String("at", models.FormatTime(slot.TimestampSeconds)))

	if il.ad == nil || !il.ad.Ready() {
		if il.blocked != slot {
			il.blocked = slot
			log.Warn("ad surface not ready, skipping ad start")
			il.observer.Notify(Notice{Level: NoticeWarn, Message: "Ad player is not ready yet"})
		}
		return ErrSurfaceNotReady
	}

	if err := il.ad.LoadCreative(slot.Creative); err != nil {
		log.Error("failed to load creative", zap.Error(err))
		il.observer.Notify(Notice{Level: NoticeError, Message: fmt.Sprintf("Could not load ad %s", slot.ID())})
		return fmt.Errorf("failed to load creative %s: %w", slot.ID(), err)
	}

	if err := il.main.Pause(); err != nil {
		log.Error("failed to pause main content", zap.Error(err))
		il.stopAdSurface(log)
		return fmt.Errorf("failed to pause main content: %w", err)
	}

	if err := il.ad.Play(); err != nil {
		log.Error("failed to play creative, resuming main content", zap.Error(err))
		il.stopAdSurface(log)
		il.resumeMain(log)
		il.observer.Notify(Notice{Level: NoticeError, Message: fmt.Sprintf("Could not play ad %s", slot.ID())})
		return fmt.Errorf("failed to play creative %s: %w", slot.ID(), err)
	}

	il.stopCountdown()
	il.blocked = nil
	il.showing = true
	il.current = slot
	il.armCountdown(slot.Creative.Kind)

	log.Info("Playing Ad: "+slot.Creative.String(),
		zap.String("kind", string(slot.Creative.Kind)),
		zap.Int("skip_countdown", il.skipRemaining))
	il.observer.StateChanged(il.Status())
	return nil
}

// Skip ends the ad once the countdown has run out
func (il *Interlock) Skip() bool {
	if !il.showing {
		il.logger.Debug("skip ignored, no ad showing")
		return false
	}
	if il.skipRemaining > 0 {
		il.logger.Debug("skip ignored, countdown running", zap.Int("remaining", il.skipRemaining))
		return false
	}
	il.endAd("skip")
	return true
}

// Close is the viewer's manual close and always ends a showing ad
func (il *Interlock) Close() bool {
	if !il.showing {
		return false
	}
	il.endAd("close")
	return true
}

// CreativeEnded handles natural completion on the ad surface
func (il *Interlock) CreativeEnded() bool {
	if !il.showing {
		return false
	}
	il.endAd("ended")
	return true
}

func (il *Interlock) endAd(reason string) {
	slot := il.current
	log := il.logger.With(zap.String("ad_id", slot.ID()), zap.String("reason", reason))

	slot.HasPlayed = true
	il.stopCountdown()
	il.stopAdSurface(log)
	il.showing = false
	il.current = nil
	il.resumeMain(log)

	log.Info("ad dismissed")
	il.observer.StateChanged(il.Status())
}

// Reset returns to Idle with an empty schedule. An ad cut short resumes main
// content unless resume is false, which is for a caller about to load a
// different video.
func (il *Interlock) Reset(resume bool) {
	il.stopCountdown()
	if il.showing {
		log := il.logger.With(zap.String("ad_id", il.current.ID()), zap.String("reason", "reset"))
		il.stopAdSurface(log)
		if resume {
			il.resumeMain(log)
		}
	}
	il.showing = false
	il.current = nil
	il.schedule = nil
	il.blocked = nil
	il.observer.StateChanged(il.Status())
}

func (il *Interlock) armCountdown(kind models.CreativeKind) {
	il.skipRemaining = il.skip.CountdownFor(kind)
	il.countdownGen++
	if il.skipRemaining > 0 {
		il.ticker = il.clock.NewTicker(time.Second)
	}
	il.observer.SkipCountdown(il.skipRemaining)
}

func (il *Interlock) stopCountdown() {
	if il.ticker != nil {
		il.ticker.Stop()
		il.ticker = nil
	}
	il.countdownGen++
	il.skipRemaining = 0
}

// Countdown returns the active countdown channel, nil when none is armed,
// and the generation its ticks belong to.
func (il *Interlock) Countdown() (<-chan time.Time, uint64) {
	if il.ticker == nil {
		return nil, il.countdownGen
	}
	return il.ticker.Chan(), il.countdownGen
}

// CountdownTick consumes one countdown second. Ticks from an older
// generation are ignored.
func (il *Interlock) CountdownTick(gen uint64) {
	if !il.showing || gen != il.countdownGen || il.skipRemaining == 0 {
		return
	}

	il.skipRemaining--
	if il.skipRemaining == 0 && il.ticker != nil {
		il.ticker.Stop()
		il.ticker = nil
	}
	il.observer.SkipCountdown(il.skipRemaining)
}

func (il *Interlock) SkipEnabled() bool {
	return il.showing && il.skipRemaining == 0
}

func (il *Interlock) Showing() bool {
	return il.showing
}

func (il *Interlock) Current() *models.AdSlot {
	return il.current
}

func (il *Interlock) Status() Status {
	st := Status{
		State:         StateIdle,
		SkipRemaining: il.skipRemaining,
		SkipEnabled:   il.SkipEnabled(),
		Scheduled:     len(il.schedule),
	}
	for _, slot := range il.schedule {
		if slot != nil && slot.HasPlayed {
			st.Played++
		}
	}
	if il.showing {
		creative := il.current.Creative
		st.State = StateShowing
		st.AdID = il.current.ID()
		st.Creative = &creative
	}
	return st
}

// JumpPoints lists one seek target per slot, lead seconds before it, in time order
func (il *Interlock) JumpPoints(lead float64) []JumpPoint {
	points := make([]JumpPoint, 0, len(il.schedule))
	for _, slot := range il.schedule {
		if slot == nil {
			continue
		}
		jump := slot.TimestampSeconds - lead
		if jump < 0 {
			jump = 0
		}
		points = append(points, JumpPoint{
			AdID:             slot.ID(),
			Label:            models.FormatTime(slot.TimestampSeconds),
			TimestampSeconds: slot.TimestampSeconds,
			JumpToSeconds:    jump,
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TimestampSeconds < points[j].TimestampSeconds
	})
	return points
}

func (il *Interlock) stopAdSurface(log *zap.Logger) {
	if il.ad == nil {
		return
	}
	if err := il.ad.Stop(); err != nil {
		log.Warn("failed to stop ad surface", zap.Error(err))
	}
}

func (il *Interlock) resumeMain(log *zap.Logger) {
	if err := il.main.Play(); err != nil {
		log.Warn("failed to resume main content", zap.Error(err))
	}
}
