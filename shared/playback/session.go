package playback

import (
	"context"
	"errors"
	"fmt"

	"adstream/internal/models"
	"adstream/shared/acquisition"
	"adstream/shared/ai"
	"adstream/shared/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned for calls made after Run has returned
var ErrSessionClosed = errors.New("session closed")

// Acquirer supplies the schedule for a video and persona
type Acquirer interface {
	Acquire(ctx context.Context, video models.Video, persona models.Persona) (*acquisition.Result, error)
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	Status
	SessionID string         `json:"session_id"`
	Video     models.Video   `json:"video"`
	Persona   models.Persona `json:"persona"`
	Analyzing bool           `json:"analyzing"`
}

// Session owns one viewer's playback context. Every input is queued and
// handled by Run on a single goroutine, so the interlock needs no locking.
type Session struct {
	id        string
	interlock *Interlock
	main      MainSurface
	source    Acquirer
	observer  Observer
	jumpLead  float64
	logger    *zap.Logger

	video         models.Video
	persona       models.Persona
	generation    uint64
	cancelAcquire context.CancelFunc
	loopCtx       context.Context

	events chan func()
	done   chan struct{}
}

func NewSession(cfg config.PlayerConfig, il *Interlock, source Acquirer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		interlock: il,
		main:      il.main,
		source:    source,
		observer:  il.observer,
		jumpLead:  cfg.JumpLeadSeconds,
		logger:    logger.With(zap.String("session", id)),
		events:    make(chan func(), 64),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Run processes events until ctx is cancelled
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)

	s.loopCtx = ctx
	s.logger.Info("session started")

	for {
		tick, gen := s.interlock.Countdown()
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case fn := <-s.events:
			fn()
		case <-tick:
			s.interlock.CountdownTick(gen)
		}
	}
}

func (s *Session) shutdown() {
	s.cancelInFlight()
	s.interlock.stopCountdown()
	s.logger.Info("session stopped")
}

func (s *Session) post(fn func()) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.events <- fn:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) TimeUpdate(t float64) error {
	return s.post(func() { _ = s.interlock.TimeUpdate(t) })
}

func (s *Session) Skip() error {
	return s.post(func() { s.interlock.Skip() })
}

func (s *Session) Close() error {
	return s.post(func() { s.interlock.Close() })
}

func (s *Session) CreativeEnded() error {
	return s.post(func() { s.interlock.CreativeEnded() })
}

// SelectVideo switches the main content. Any ad and schedule are discarded.
func (s *Session) SelectVideo(v models.Video) error {
	return s.post(func() {
		s.resetSelection(false)
		s.video = v
		s.logger.Info("video selected", zap.String("video", v.Name))
		if err := s.main.Load(v.Path); err != nil {
			s.logger.Error("failed to load video", zap.String("video", v.Path), zap.Error(err))
			s.observer.Notify(Notice{Level: NoticeError, Message: fmt.Sprintf("Could not load %s", v.Name)})
		}
	})
}

// SelectPersona switches the viewer profile. Any ad and schedule are discarded.
func (s *Session) SelectPersona(p models.Persona) error {
	return s.post(func() {
		s.resetSelection(true)
		s.persona = p
		s.logger.Info("persona selected", zap.String("persona", p.Name))
	})
}

// Analyze starts schedule acquisition for the current selection
func (s *Session) Analyze() error {
	return s.post(s.analyze)
}

// JumpPoints returns seek targets for the loaded schedule
func (s *Session) JumpPoints(ctx context.Context) ([]JumpPoint, error) {
	reply := make(chan []JumpPoint, 1)
	if err := s.post(func() { reply <- s.interlock.JumpPoints(s.jumpLead) }); err != nil {
		return nil, err
	}
	select {
	case points := <-reply:
		return points, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := s.post(func() { reply <- s.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Status:    s.interlock.Status(),
		SessionID: s.id,
		Video:     s.video,
		Persona:   s.persona,
		Analyzing: s.cancelAcquire != nil,
	}
}

func (s *Session) resetSelection(resume bool) {
	s.cancelInFlight()
	s.generation++
	s.interlock.Reset(resume)
	s.observer.ScheduleChanged(nil)
}

func (s *Session) cancelInFlight() {
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
}

func (s *Session) analyze() {
	if s.video.IsZero() {
		s.observer.Notify(Notice{Level: NoticeWarn, Message: "Select a video first"})
		return
	}
	if s.persona.IsZero() {
		s.observer.Notify(Notice{Level: NoticeWarn, Message: "Select a persona first"})
		return
	}

	s.resetSelection(true)
	gen := s.generation
	ctx, cancel := context.WithCancel(s.loopCtx)
	s.cancelAcquire = cancel

	video, persona := s.video, s.persona
	s.logger.Info("analysis started",
		zap.String("video", video.Name),
		zap.String("persona", persona.Name),
		zap.Uint64("generation", gen))
	s.observer.Notify(Notice{Level: NoticeInfo, Message: fmt.Sprintf("Analyzing %s for %s...", video.Name, persona.Name)})

	go func() {
		res, err := s.source.Acquire(ctx, video, persona)
		_ = s.post(func() { s.acquired(gen, res, err) })
	}()
}

func (s *Session) acquired(gen uint64, res *acquisition.Result, err error) {
	if gen != s.generation {
		s.logger.Info("discarding stale schedule", zap.Uint64("generation", gen), zap.Uint64("current", s.generation))
		return
	}
	s.cancelInFlight()

	if err != nil {
		s.logger.Error("schedule acquisition failed", zap.Error(err))
		s.observer.Notify(Notice{Level: NoticeError, Message: failureMessage(err)})
		return
	}

	s.interlock.Load(res.Slots)
	s.logger.Info("schedule loaded",
		zap.Int("slots", len(res.Slots)),
		zap.Bool("cached", res.Cached),
		zap.Int("dropped", res.Dropped))

	source := "generated"
	if res.Cached {
		source = "cached"
	}
	s.observer.Notify(Notice{Level: NoticeInfo, Message: fmt.Sprintf("Loaded %d ads (%s)", len(res.Slots), source)})
	s.observer.ScheduleChanged(s.interlock.JumpPoints(s.jumpLead))
	s.observer.StateChanged(s.interlock.Status())

	// The viewer may already be inside a window
	_ = s.interlock.TimeUpdate(s.main.CurrentTime())
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, acquisition.ErrMissingCredential):
		return "Add a Gemini API key to analyze videos"
	case errors.Is(err, ai.ErrProcessingFailed):
		return "Video processing failed"
	case errors.Is(err, ai.ErrProcessingTimeout):
		return "Video processing timed out"
	case errors.Is(err, ai.ErrMalformedResponse):
		return "The ad schedule could not be read"
	default:
		return fmt.Sprintf("Analysis failed: %v", err)
	}
}
