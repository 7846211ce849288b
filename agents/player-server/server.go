package playerserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"adstream/internal/models"
	"adstream/shared/acquisition"
	"adstream/shared/catalog"
	"adstream/shared/config"
	"adstream/shared/logging"
	"adstream/shared/monitoring"
	"adstream/shared/playback"
	"adstream/shared/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Options carries the collaborators a Server needs
type Options struct {
	Catalog  *catalog.Catalog
	Settings *storage.Settings
	Source   playback.Acquirer
	Monitor  *monitoring.Monitor
	Clock    clockwork.Clock
}

type Server struct {
	config   *config.Config
	router   chi.Router
	catalog  *catalog.Catalog
	settings *storage.Settings
	source   playback.Acquirer
	monitor  *monitoring.Monitor
	clock    clockwork.Clock
	logger   *zap.Logger
	upgrader websocket.Upgrader

	sessions sync.WaitGroup
}

func New(cfg *config.Config, opts Options, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Monitor == nil {
		opts.Monitor = monitoring.NewMonitor(logger)
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		catalog:  opts.Catalog,
		settings: opts.Settings,
		source:   monitoredSource{source: opts.Source, monitor: opts.Monitor},
		monitor:  opts.Monitor,
		clock:    opts.Clock,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/api/catalog", s.handleCatalog)
	s.router.Get("/api/videos", s.handleVideos)
	s.router.Handle("/videos/*", http.StripPrefix("/videos/", http.FileServer(http.Dir(s.config.Server.VideoDir))))
	s.router.Get("/ws", s.handleWebSocket)

	monitoring.NewHealthServer(s.monitor, "", s.logger).Routes(s.router)
}

// ListenAndServe serves until ctx is cancelled, then waits for open sessions
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("player server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.sessions.Wait()
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	return slices.Contains(allowed, r.Header.Get("Origin"))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The socket needs the raw writer for the upgrade
		if r.URL.Path == "/health" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ads": s.catalog.All(),
	})
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.config.Server.VideoDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("failed to list videos", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list videos"})
		return
	}

	videos := []models.Video{}
	for _, e := range entries {
		if e.IsDir() || !isVideoFile(e.Name()) {
			continue
		}
		videos = append(videos, models.Video{Path: "/videos/" + e.Name(), Name: e.Name()})
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].Name < videos[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{"videos": videos})
}

func isVideoFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".webm", ".mov", ".mkv", ".avi":
		return true
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	logger := s.logger.With(zap.String("client", id))
	client := newClient(id, conn, logger)

	il := playback.NewInterlock(s.config.Player, mainSurface{client}, adSurface{client}, client, s.clock, logger)
	session := playback.NewSession(s.config.Player, il, s.source, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = session.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		client.writePump()
	}()
	go func() {
		select {
		case <-ctx.Done():
			client.close()
		case <-client.closed:
		}
	}()

	logger.Info("viewer connected", zap.String("session", session.ID()))
	client.StateChanged(playback.Status{State: playback.StateIdle})

	client.readPump(ctx, s, session)
	cancel()
	wg.Wait()
	logger.Info("viewer disconnected")
}

// configure stores the viewer's Gemini key and model
func (s *Server) configure(ctx context.Context, c *Client, p configurePayload) {
	if s.settings == nil {
		c.Notify(playback.Notice{Level: playback.NoticeError, Message: "Settings storage is unavailable"})
		return
	}
	if err := s.settings.Save(ctx, p.APIKey, p.Model); err != nil {
		c.logger.Warn("failed to save settings", zap.Error(err))
		c.Notify(playback.Notice{Level: playback.NoticeError, Message: "Could not save settings: " + err.Error()})
		return
	}
	c.logger.Info("settings saved", zap.String("model", p.Model))
	c.Notify(playback.Notice{Level: playback.NoticeInfo, Message: "Settings saved"})
}

// selectVideo resolves a file name inside the video directory
func (s *Server) selectVideo(c *Client, session *playback.Session, name string) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base != name || !isVideoFile(base) {
		c.Notify(playback.Notice{Level: playback.NoticeError, Message: fmt.Sprintf("Invalid video %q", name)})
		return
	}

	p := filepath.Join(s.config.Server.VideoDir, base)
	if _, err := os.Stat(p); err != nil {
		c.Notify(playback.Notice{Level: playback.NoticeError, Message: fmt.Sprintf("Video %s not found", base)})
		return
	}

	if err := session.SelectVideo(models.NewVideo(p)); err != nil {
		c.logger.Debug("select video after session end", zap.Error(err))
	}
}

// monitoredSource records every acquisition outcome on the monitor
type monitoredSource struct {
	source  playback.Acquirer
	monitor *monitoring.Monitor
}

func (m monitoredSource) Acquire(ctx context.Context, video models.Video, persona models.Persona) (*acquisition.Result, error) {
	start := time.Now()
	res, err := m.source.Acquire(ctx, video, persona)
	if err != nil {
		if ctx.Err() == nil {
			m.monitor.RecordPartialFailure(fmt.Errorf("schedule for %s/%s: %w", video.Name, persona.Name, err), time.Since(start))
		}
		return nil, err
	}

	m.monitor.RecordSuccess(fmt.Sprintf("%d slots for %s/%s", len(res.Slots), video.Name, persona.Name), time.Since(start))
	return res, nil
}
