package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adstream/internal/models"
	"adstream/shared/acquisition"
)

type acquireCall struct {
	video   models.Video
	persona models.Persona
	reply   chan acquireReply
}

type acquireReply struct {
	res *acquisition.Result
	err error
}

// fakeSource hands each call to the test, which answers when it chooses
type fakeSource struct {
	calls chan acquireCall
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: make(chan acquireCall, 8)}
}

func (f *fakeSource) Acquire(ctx context.Context, video models.Video, persona models.Persona) (*acquisition.Result, error) {
	call := acquireCall{video: video, persona: persona, reply: make(chan acquireReply, 1)}
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) next(t *testing.T) acquireCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("acquisition was not started")
		return acquireCall{}
	}
}

type sessionHarness struct {
	*harness
	session *Session
	source  *fakeSource
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	h := &sessionHarness{harness: newHarness(t), source: newFakeSource()}
	h.session = NewSession(testPlayerConfig(), h.il, h.source, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = h.session.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		h.wg.Wait()
	})
	return h
}

func (h *sessionHarness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.session.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

// waitFor polls the session until cond holds
func (h *sessionHarness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := h.snapshot(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last snapshot %+v", what, snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *sessionHarness) selectAndAnalyze(t *testing.T) acquireCall {
	t.Helper()
	if err := h.session.SelectVideo(models.NewVideo("videos/demo.mp4")); err != nil {
		t.Fatal(err)
	}
	if err := h.session.SelectPersona(models.Persona{Name: "Tech Enthusiast", Interests: []string{"gadgets"}}); err != nil {
		t.Fatal(err)
	}
	if err := h.session.Analyze(); err != nil {
		t.Fatal(err)
	}
	return h.source.next(t)
}

func TestSessionEndToEnd(t *testing.T) {
	h := newSessionHarness(t)

	call := h.selectAndAnalyze(t)
	if call.video.Name != "demo.mp4" || call.persona.Name != "Tech Enthusiast" {
		t.Fatalf("unexpected acquisition request: %+v", call)
	}
	call.reply <- acquireReply{res: &acquisition.Result{Slots: []*models.AdSlot{catalogSlot("ad_001", 30, 30)}}}
	h.waitFor(t, "schedule", func(s Snapshot) bool { return s.Scheduled == 1 && !s.Analyzing })

	_ = h.session.TimeUpdate(29)
	if snap := h.snapshot(t); snap.State != StateIdle {
		t.Fatalf("state at t=29 = %s, want idle", snap.State)
	}

	_ = h.session.TimeUpdate(31)
	snap := h.snapshot(t)
	if snap.State != StateShowing || snap.AdID != "ad_001" {
		t.Fatalf("at t=31 got %+v, want ad_001 showing", snap.Status)
	}
	if !h.main.isPaused() {
		t.Error("main should be paused")
	}

	for i := 5; i > 0; i-- {
		_ = h.session.Skip()
		if s := h.snapshot(t); s.State != StateShowing || s.SkipRemaining != i {
			t.Fatalf("skip accepted with %d ticks left: %+v", i, s.Status)
		}
		h.clock.Advance(time.Second)
		want := i - 1
		h.waitFor(t, "countdown tick", func(s Snapshot) bool { return s.SkipRemaining == want })
	}

	_ = h.session.Skip()
	snap = h.snapshot(t)
	if snap.State != StateIdle || snap.Played != 1 {
		t.Fatalf("after skip got %+v, want idle with one played slot", snap.Status)
	}
	if h.main.isPaused() {
		t.Error("main should resume after skip")
	}

	_ = h.session.TimeUpdate(45)
	if snap := h.snapshot(t); snap.State != StateIdle {
		t.Error("slot re-triggered at t=45")
	}
}

func TestSessionSelectionResetsShowingAd(t *testing.T) {
	h := newSessionHarness(t)

	call := h.selectAndAnalyze(t)
	call.reply <- acquireReply{res: &acquisition.Result{Slots: []*models.AdSlot{catalogSlot("ad_001", 0, 30)}}}
	h.waitFor(t, "schedule", func(s Snapshot) bool { return s.Scheduled == 1 })

	_ = h.session.TimeUpdate(1)
	h.waitFor(t, "ad", func(s Snapshot) bool { return s.State == StateShowing })

	_ = h.session.SelectPersona(models.Persona{Name: "Fitness Fan"})
	snap := h.snapshot(t)
	if snap.State != StateIdle || snap.Scheduled != 0 {
		t.Errorf("after persona change got %+v, want idle with empty schedule", snap.Status)
	}
	if snap.Persona.Name != "Fitness Fan" {
		t.Errorf("persona = %q", snap.Persona.Name)
	}

	if h.main.isPaused() {
		t.Error("main should resume when a persona change cuts an ad short")
	}
	calls := h.rec.list()
	if got := calls[len(calls)-2:]; !equalCalls(got, []string{"ad.stop", "main.play"}) {
		t.Errorf("last calls = %v, want [ad.stop main.play]", got)
	}
}

func TestSessionReanalyzeResumesMain(t *testing.T) {
	h := newSessionHarness(t)

	call := h.selectAndAnalyze(t)
	call.reply <- acquireReply{res: &acquisition.Result{Slots: []*models.AdSlot{catalogSlot("ad_001", 0, 30)}}}
	h.waitFor(t, "schedule", func(s Snapshot) bool { return s.Scheduled == 1 })
	_ = h.session.TimeUpdate(1)
	h.waitFor(t, "ad", func(s Snapshot) bool { return s.State == StateShowing })

	_ = h.session.Analyze()
	again := h.source.next(t)
	again.reply <- acquireReply{res: &acquisition.Result{}}
	h.waitFor(t, "analysis to finish", func(s Snapshot) bool { return !s.Analyzing })

	if snap := h.snapshot(t); snap.State != StateIdle {
		t.Errorf("state = %s, want idle", snap.State)
	}
	if h.main.isPaused() {
		t.Error("main stayed paused after analyzing again")
	}
}

func TestSessionVideoChangeDefersToLoad(t *testing.T) {
	h := newSessionHarness(t)

	call := h.selectAndAnalyze(t)
	call.reply <- acquireReply{res: &acquisition.Result{Slots: []*models.AdSlot{catalogSlot("ad_001", 0, 30)}}}
	h.waitFor(t, "schedule", func(s Snapshot) bool { return s.Scheduled == 1 })
	_ = h.session.TimeUpdate(1)
	h.waitFor(t, "ad", func(s Snapshot) bool { return s.State == StateShowing })

	_ = h.session.SelectVideo(models.NewVideo("videos/other.mp4"))
	_ = h.snapshot(t)

	calls := h.rec.list()
	if got := calls[len(calls)-2:]; !equalCalls(got, []string{"ad.stop", "main.load:videos/other.mp4"}) {
		t.Errorf("last calls = %v, want the ad stopped then the new video loaded", got)
	}
}

func TestSessionDiscardsStaleResult(t *testing.T) {
	h := newSessionHarness(t)

	stale := h.selectAndAnalyze(t)
	_ = h.session.SelectVideo(models.NewVideo("videos/other.mp4"))
	stale.reply <- acquireReply{res: &acquisition.Result{Slots: []*models.AdSlot{catalogSlot("ad_001", 0, 30)}}}

	// The stale call may observe cancellation first; either way nothing loads.
	time.Sleep(20 * time.Millisecond)
	snap := h.snapshot(t)
	if snap.Scheduled != 0 {
		t.Errorf("stale result was applied: %+v", snap.Status)
	}
	if snap.Video.Name != "other.mp4" {
		t.Errorf("video = %q, want other.mp4", snap.Video.Name)
	}
}

func TestSessionAcquisitionFailure(t *testing.T) {
	h := newSessionHarness(t)

	call := h.selectAndAnalyze(t)
	call.reply <- acquireReply{err: errors.New("network unreachable")}
	h.waitFor(t, "analysis to finish", func(s Snapshot) bool { return !s.Analyzing })

	if snap := h.snapshot(t); snap.Scheduled != 0 {
		t.Errorf("schedule should stay empty, got %d slots", snap.Scheduled)
	}

	found := false
	for _, n := range h.observer.noticeList() {
		if n.Level == NoticeError {
			found = true
		}
	}
	if !found {
		t.Error("expected an error notice")
	}
}

func TestSessionMissingCredentialNotice(t *testing.T) {
	h := newSessionHarness(t)

	call := h.selectAndAnalyze(t)
	call.reply <- acquireReply{err: acquisition.ErrMissingCredential}
	h.waitFor(t, "analysis to finish", func(s Snapshot) bool { return !s.Analyzing })

	notices := h.observer.noticeList()
	last := notices[len(notices)-1]
	if last.Level != NoticeError || last.Message != failureMessage(acquisition.ErrMissingCredential) {
		t.Errorf("last notice = %+v", last)
	}
}

func TestSessionAnalyzeRequiresSelection(t *testing.T) {
	h := newSessionHarness(t)

	_ = h.session.Analyze()
	h.snapshot(t)

	select {
	case <-h.source.calls:
		t.Fatal("acquisition started without a selection")
	default:
	}

	notices := h.observer.noticeList()
	if len(notices) != 1 || notices[0].Level != NoticeWarn {
		t.Errorf("notices = %+v, want one warning", notices)
	}
}

func TestSessionJumpPoints(t *testing.T) {
	h := newSessionHarness(t)

	call := h.selectAndAnalyze(t)
	call.reply <- acquireReply{res: &acquisition.Result{Slots: []*models.AdSlot{catalogSlot("ad_001", 30, 30)}}}
	h.waitFor(t, "schedule", func(s Snapshot) bool { return s.Scheduled == 1 })

	points, err := h.session.JumpPoints(context.Background())
	if err != nil {
		t.Fatalf("JumpPoints() error = %v", err)
	}
	if len(points) != 1 || points[0].JumpToSeconds != 27 {
		t.Errorf("points = %+v, want one at 27s", points)
	}
}

func TestSessionClosed(t *testing.T) {
	h := newSessionHarness(t)
	h.cancel()
	h.wg.Wait()

	if err := h.session.TimeUpdate(1); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("TimeUpdate after close error = %v, want ErrSessionClosed", err)
	}
	if _, err := h.session.Snapshot(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Snapshot after close error = %v, want ErrSessionClosed", err)
	}
}
