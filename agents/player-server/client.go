package playerserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"adstream/internal/models"
	"adstream/shared/playback"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 * 1024
	sendBuffer = 256
)

var (
	errClientClosed = errors.New("client connection closed")
	errSendOverflow = errors.New("client send buffer full")
)

// Message is the socket envelope in both directions
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound message types
const (
	msgConfigure     = "configure"
	msgSelectVideo   = "select_video"
	msgSelectPersona = "select_persona"
	msgAnalyze       = "analyze"
	msgTimeUpdate    = "time_update"
	msgSkip          = "skip"
	msgClose         = "close"
	msgAdReady       = "ad_ready"
	msgAdEnded       = "ad_ended"
)

// Outbound message types
const (
	msgMainPause     = "main_pause"
	msgMainPlay      = "main_play"
	msgMainLoad      = "main_load"
	msgAdLoad        = "ad_load"
	msgAdPlay        = "ad_play"
	msgAdStop        = "ad_stop"
	msgState         = "state"
	msgSkipCountdown = "skip_countdown"
	msgSchedule      = "schedule"
	msgNotice        = "notice"
)

type configurePayload struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

type selectVideoPayload struct {
	Name string `json:"name"`
}

type timeUpdatePayload struct {
	CurrentTime float64 `json:"current_time"`
}

type adReadyPayload struct {
	Ready *bool `json:"ready"`
}

type loadPayload struct {
	Source string `json:"source"`
}

type creativePayload struct {
	Creative models.Creative `json:"creative"`
}

type countdownPayload struct {
	Remaining   int  `json:"remaining"`
	SkipEnabled bool `json:"skip_enabled"`
}

type schedulePayload struct {
	JumpPoints []playback.JumpPoint `json:"jump_points"`
}

// Client is one browser connection. It drives the browser's two players
// and relays viewer input into its playback session.
type Client struct {
	ID     string
	conn   *websocket.Conn
	send   chan Message
	closed chan struct{}
	once   sync.Once
	logger *zap.Logger

	adReady     atomic.Bool
	currentTime atomic.Uint64
}

func newClient(id string, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		closed: make(chan struct{}),
		logger: logger,
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// enqueue never blocks the session loop
func (c *Client) enqueue(typ string, data interface{}) error {
	msg := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = raw
	}

	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return errClientClosed
	default:
		c.logger.Warn("dropping outbound message", zap.String("type", typ))
		return errSendOverflow
	}
}

func (c *Client) setCurrentTime(t float64) {
	c.currentTime.Store(math.Float64bits(t))
}

// Observer

func (c *Client) StateChanged(status playback.Status) {
	_ = c.enqueue(msgState, status)
}

func (c *Client) SkipCountdown(remaining int) {
	_ = c.enqueue(msgSkipCountdown, countdownPayload{Remaining: remaining, SkipEnabled: remaining == 0})
}

func (c *Client) Notify(n playback.Notice) {
	_ = c.enqueue(msgNotice, n)
}

func (c *Client) ScheduleChanged(points []playback.JumpPoint) {
	if points == nil {
		points = []playback.JumpPoint{}
	}
	_ = c.enqueue(msgSchedule, schedulePayload{JumpPoints: points})
}

// mainSurface drives the browser's <video> element
type mainSurface struct{ c *Client }

func (m mainSurface) Pause() error { return m.c.enqueue(msgMainPause, nil) }
func (m mainSurface) Play() error  { return m.c.enqueue(msgMainPlay, nil) }

func (m mainSurface) Load(source string) error {
	m.c.setCurrentTime(0)
	return m.c.enqueue(msgMainLoad, loadPayload{Source: "/videos/" + url.PathEscape(path.Base(source))})
}

func (m mainSurface) CurrentTime() float64 {
	return math.Float64frombits(m.c.currentTime.Load())
}

// adSurface drives the browser's ad player
type adSurface struct{ c *Client }

func (a adSurface) Ready() bool { return a.c.adReady.Load() }

func (a adSurface) LoadCreative(creative models.Creative) error {
	return a.c.enqueue(msgAdLoad, creativePayload{Creative: creative})
}

func (a adSurface) Play() error { return a.c.enqueue(msgAdPlay, nil) }
func (a adSurface) Stop() error { return a.c.enqueue(msgAdStop, nil) }

// handler reacts to inbound messages that need server resources
type handler interface {
	configure(ctx context.Context, c *Client, p configurePayload)
	selectVideo(c *Client, s *playback.Session, name string)
}

func (c *Client) readPump(ctx context.Context, h handler, session *playback.Session) {
	defer c.close()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.dispatch(ctx, h, session, msg); err != nil {
			if errors.Is(err, playback.ErrSessionClosed) {
				return
			}
			c.logger.Debug("bad message", zap.String("type", msg.Type), zap.Error(err))
			c.Notify(playback.Notice{Level: playback.NoticeWarn, Message: "Malformed " + msg.Type + " message"})
		}
	}
}

func (c *Client) dispatch(ctx context.Context, h handler, session *playback.Session, msg Message) error {
	switch msg.Type {
	case msgConfigure:
		var p configurePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		h.configure(ctx, c, p)
	case msgSelectVideo:
		var p selectVideoPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		h.selectVideo(c, session, p.Name)
	case msgSelectPersona:
		var p models.Persona
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		if p.IsZero() {
			return errors.New("persona name is required")
		}
		return session.SelectPersona(p)
	case msgAnalyze:
		return session.Analyze()
	case msgTimeUpdate:
		var p timeUpdatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		if math.IsNaN(p.CurrentTime) || p.CurrentTime < 0 {
			return errors.New("invalid current_time")
		}
		c.setCurrentTime(p.CurrentTime)
		return session.TimeUpdate(p.CurrentTime)
	case msgSkip:
		return session.Skip()
	case msgClose:
		return session.Close()
	case msgAdReady:
		ready := true
		if len(msg.Data) > 0 {
			var p adReadyPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				return err
			}
			if p.Ready != nil {
				ready = *p.Ready
			}
		}
		c.adReady.Store(ready)
	case msgAdEnded:
		return session.CreativeEnded()
	default:
		c.logger.Debug("ignoring unknown message", zap.String("type", msg.Type))
	}
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
