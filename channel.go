package livesync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// a channel is one logical persistent push connection for a single purpose
// (feed, messages, notifications). The lifecycle is:
// Idle -> Connecting -> Open -> Closed -> Connecting -> ...
// with Closed entered on any unexpected disconnect, and Idle entered only by
// an explicit Close, which is terminal for that session.
type ChannelState string

const (
	ChannelStateIdle       ChannelState = "Idle"
	ChannelStateConnecting ChannelState = "Connecting"
	ChannelStateOpen       ChannelState = "Open"
	ChannelStateClosed     ChannelState = "Closed"
)

// the subset of *websocket.Conn the channel needs. Tests inject fakes.
type WsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// (ctx, url)
type WsDialFunc func(ctx context.Context, url string) (WsConn, error)

// timer source. Defaults to `time.AfterFunc`.
// The callback must not be invoked synchronously from the caller's goroutine.
type TimerFunction func(timeout time.Duration, f func()) *time.Timer

type ChannelSettings struct {
	WsHandshakeTimeout  time.Duration
	WriteTimeout        time.Duration
	ReconnectMinTimeout time.Duration
	ReconnectMaxTimeout time.Duration
	KeepAliveTimeout    time.Duration
	PingPayload         func() []byte
	WsDial              WsDialFunc
	AfterFunc           TimerFunction
}

func DefaultChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		WsHandshakeTimeout:  5 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReconnectMinTimeout: 1 * time.Second,
		ReconnectMaxTimeout: 30 * time.Second,
		KeepAliveTimeout:    45 * time.Second,
	}
}

func RawPingPayload() []byte {
	return []byte("ping")
}

type ChannelHandlers struct {
	OnOpen    func()
	OnMessage func(message []byte)
	OnClose   func()
}

type Channel struct {
	ctx    context.Context
	cancel context.CancelFunc

	purpose  string
	settings *ChannelSettings

	stateLock sync.Mutex
	state     ChannelState
	done      bool
	// bumped whenever the live socket session ends,
	// so that stale goroutines and timers become no-ops
	sequence       int
	urlBuilder     func() string
	handlers       *ChannelHandlers
	ws             WsConn
	retryTimeout   time.Duration
	reconnectTimer *time.Timer
	keepAliveTimer *time.Timer
}

func NewChannel(ctx context.Context, purpose string, settings *ChannelSettings) *Channel {
	cancelCtx, cancel := context.WithCancel(ctx)

	if settings.PingPayload == nil {
		settings.PingPayload = RawPingPayload
	}
	if settings.WsDial == nil {
		settings.WsDial = defaultWsDial(settings)
	}
	if settings.AfterFunc == nil {
		settings.AfterFunc = time.AfterFunc
	}

	channel := &Channel{
		ctx:          cancelCtx,
		cancel:       cancel,
		purpose:      purpose,
		settings:     settings,
		state:        ChannelStateIdle,
		retryTimeout: settings.ReconnectMinTimeout,
	}
	go func() {
		// no timer survives the owning context
		<-cancelCtx.Done()
		channel.Close()
	}()
	return channel
}

func defaultWsDial(settings *ChannelSettings) WsDialFunc {
	return func(ctx context.Context, url string) (WsConn, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

func (self *Channel) Purpose() string {
	return self.purpose
}

func (self *Channel) State() ChannelState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Channel) IsOpen() bool {
	return self.State() == ChannelStateOpen
}

// Open starts connecting. At most one live socket exists per channel.
// Open on a non idle channel is a no-op.
func (self *Channel) Open(urlBuilder func() string, handlers *ChannelHandlers) {
	self.stateLock.Lock()
	if self.done || self.state != ChannelStateIdle {
		self.stateLock.Unlock()
		glog.Infof("[ch]%s open ignored in state %s\n", self.purpose, self.state)
		return
	}
	self.urlBuilder = urlBuilder
	self.handlers = handlers
	self.retryTimeout = self.settings.ReconnectMinTimeout
	self.state = ChannelStateConnecting
	self.sequence += 1
	sequence := self.sequence
	self.stateLock.Unlock()

	go self.connect(sequence)
}

// Close is terminal for this channel instance: it cancels the pending
// reconnect and keepalive timers synchronously and never auto reopens.
// Re-establishing communication requires a fresh channel.
func (self *Channel) Close() {
	self.cancel()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.done = true
	self.sequence += 1
	self.clearReconnectTimer()
	self.clearKeepAliveTimer()
	if self.ws != nil {
		self.ws.Close()
		self.ws = nil
	}
	self.state = ChannelStateIdle
}

// Send is best effort. If the channel is not open the payload is
// silently dropped. Used only for keepalive and hello traffic.
func (self *Channel) Send(payload []byte) {
	self.stateLock.Lock()
	if self.state != ChannelStateOpen {
		self.stateLock.Unlock()
		glog.V(2).Infof("[ch]%s drop send in state %s\n", self.purpose, self.state)
		return
	}
	ws := self.ws
	self.stateLock.Unlock()

	self.writeMessage(ws, payload)
}

func (self *Channel) connect(sequence int) {
	url := self.urlBuilder()
	ws, err := self.settings.WsDial(self.ctx, url)

	self.stateLock.Lock()
	if sequence != self.sequence || self.state != ChannelStateConnecting {
		self.stateLock.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		glog.Infof("[ch]%s connect error = %s\n", self.purpose, err)
		self.state = ChannelStateClosed
		self.scheduleReconnect()
		self.stateLock.Unlock()
		return
	}

	self.ws = ws
	self.state = ChannelStateOpen
	// a successful open resets the backoff
	self.retryTimeout = self.settings.ReconnectMinTimeout
	self.clearReconnectTimer()
	handlers := self.handlers
	self.stateLock.Unlock()

	glog.V(1).Infof("[ch]%s open %s\n", self.purpose, url)

	if handlers.OnOpen != nil {
		handlers.OnOpen()
	}

	// one keepalive probe immediately on open, then on a fixed interval
	self.writeMessage(ws, self.settings.PingPayload())
	self.stateLock.Lock()
	if sequence == self.sequence && self.state == ChannelStateOpen {
		self.scheduleKeepAlive(sequence)
	}
	self.stateLock.Unlock()

	go self.readLoop(ws, sequence)
}

func (self *Channel) readLoop(ws WsConn, sequence int) {
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[ch]%s read error = %s\n", self.purpose, err)
			self.handleClose(sequence)
			return
		}

		self.stateLock.Lock()
		live := sequence == self.sequence && self.state == ChannelStateOpen
		handlers := self.handlers
		self.stateLock.Unlock()
		if !live {
			return
		}
		// events on one channel are delivered strictly in arrival order
		if handlers.OnMessage != nil {
			handlers.OnMessage(message)
		}
	}
}

// the uniform close funnel for socket errors and clean disconnects
func (self *Channel) handleClose(sequence int) {
	self.stateLock.Lock()
	if sequence != self.sequence || self.state != ChannelStateOpen {
		self.stateLock.Unlock()
		return
	}
	// never leave the socket half open
	self.ws.Close()
	self.ws = nil
	self.sequence += 1
	self.state = ChannelStateClosed
	self.scheduleReconnect()
	handlers := self.handlers
	self.stateLock.Unlock()

	if handlers.OnClose != nil {
		handlers.OnClose()
	}
}

// must be called with `stateLock`. At most one reconnect timer is pending.
// The keepalive timer is always cleared before a reconnect is scheduled.
func (self *Channel) scheduleReconnect() {
	self.clearKeepAliveTimer()
	if self.reconnectTimer != nil {
		return
	}
	timeout := min(self.retryTimeout, self.settings.ReconnectMaxTimeout)
	sequence := self.sequence
	self.reconnectTimer = self.settings.AfterFunc(timeout, func() {
		self.stateLock.Lock()
		if sequence != self.sequence || self.state != ChannelStateClosed {
			self.stateLock.Unlock()
			return
		}
		self.reconnectTimer = nil
		// each failed attempt doubles the delay for the next one, up to the cap
		self.retryTimeout = nextRetryTimeout(self.retryTimeout, self.settings.ReconnectMaxTimeout)
		self.state = ChannelStateConnecting
		self.stateLock.Unlock()

		self.connect(sequence)
	})
}

// must be called with `stateLock`
func (self *Channel) scheduleKeepAlive(sequence int) {
	self.keepAliveTimer = self.settings.AfterFunc(self.settings.KeepAliveTimeout, func() {
		self.stateLock.Lock()
		if sequence != self.sequence || self.state != ChannelStateOpen {
			self.stateLock.Unlock()
			return
		}
		ws := self.ws
		self.scheduleKeepAlive(sequence)
		self.stateLock.Unlock()

		self.writeMessage(ws, self.settings.PingPayload())
	})
}

// must be called with `stateLock`
func (self *Channel) clearReconnectTimer() {
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
}

// must be called with `stateLock`
func (self *Channel) clearKeepAliveTimer() {
	if self.keepAliveTimer != nil {
		self.keepAliveTimer.Stop()
		self.keepAliveTimer = nil
	}
}

func (self *Channel) writeMessage(ws WsConn, payload []byte) {
	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		glog.V(1).Infof("[ch]%s write error = %s\n", self.purpose, err)
		// force the socket closed. The read loop funnels this
		// through the same close path as a clean disconnect.
		ws.Close()
	}
}

func nextRetryTimeout(retryTimeout time.Duration, maxRetryTimeout time.Duration) time.Duration {
	nextTimeout := 2 * retryTimeout
	if maxRetryTimeout < nextTimeout {
		nextTimeout = maxRetryTimeout
	}
	return nextTimeout
}
