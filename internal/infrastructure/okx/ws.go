package okx

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

const (
	baseDelay         = 1 * time.Second
	maxDelay          = 60 * time.Second
	defaultPingPeriod = 25 * time.Second
	loginTimeout      = 10 * time.Second
	dialTimeout       = 15 * time.Second
)

// backoff returns baseDelay * 2^attempt capped at maxDelay
func backoff(attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

type wsRequest struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args"`
}

type wsMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

// stream is one reconnecting websocket connection with its subscriptions
type stream struct {
	name       string
	url        string
	signer     *Signer // nil for public streams
	pingPeriod time.Duration
	onMessage  func([]byte)
	log        *logger.Logger

	wsConn      *websocket.Conn
	wsMu        sync.RWMutex
	wsConnected bool
	wsDone      chan struct{}
	subs        []map[string]string

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func newStream(name, url string, signer *Signer, pingPeriod time.Duration, onMessage func([]byte), log *logger.Logger) *stream {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &stream{
		name:       name,
		url:        url,
		signer:     signer,
		pingPeriod: pingPeriod,
		onMessage:  onMessage,
		log:        log.WithField("stream", name),
	}
}

func (s *stream) start(ctx context.Context) error {
	s.wsMu.RLock()
	running := s.wsDone != nil
	s.wsMu.RUnlock()
	if running {
		return nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s.wsMu.Lock()
	s.wsDone = done
	s.wsMu.Unlock()
	s.attach(conn)

	s.wg.Add(1)
	go s.run(conn, done)
	return nil
}

func (s *stream) stop() {
	s.wsMu.Lock()
	if s.wsDone == nil {
		s.wsMu.Unlock()
		return
	}
	close(s.wsDone)
	s.wsDone = nil
	if s.wsConn != nil {
		s.wsConn.Close()
		s.wsConn = nil
	}
	s.wsConnected = false
	s.wsMu.Unlock()

	s.wg.Wait()
}

func (s *stream) connected() bool {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()
	return s.wsConnected
}

// subscribe records the channel and sends it when connected.
// Recorded channels are replayed after every reconnect.
func (s *stream) subscribe(arg map[string]string) error {
	s.wsMu.Lock()
	s.subs = append(s.subs, arg)
	conn := s.wsConn
	s.wsMu.Unlock()

	if conn == nil {
		return nil
	}
	return s.send(conn, wsRequest{Op: "subscribe", Args: []interface{}{arg}})
}

func (s *stream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket dial failed")
	}
	if s.signer != nil {
		if err := s.login(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (s *stream) login(conn *websocket.Conn) error {
	if err := s.send(conn, wsRequest{Op: "login", Args: []interface{}{s.signer.LoginArgs()}}); err != nil {
		return errors.Wrap(err, "send login")
	}

	conn.SetReadDeadline(time.Now().Add(loginTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read login response")
		}
		var msg wsMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch msg.Event {
		case "login":
			if msg.Code != "" && msg.Code != gateway.StatusOK {
				return errors.Errorf("login rejected: %s %s", msg.Code, msg.Msg)
			}
			return nil
		case "error":
			return errors.Errorf("login rejected: %s %s", msg.Code, msg.Msg)
		}
	}
}

// attach installs conn as the live connection and replays subscriptions
func (s *stream) attach(conn *websocket.Conn) {
	s.wsMu.Lock()
	s.wsConn = conn
	s.wsConnected = true
	subs := make([]interface{}, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.wsMu.Unlock()

	if len(subs) > 0 {
		if err := s.send(conn, wsRequest{Op: "subscribe", Args: subs}); err != nil {
			s.log.Warn("Resubscribe failed: %v", err)
		}
	}
}

// send sends a message via WebSocket
func (s *stream) send(conn *websocket.Conn, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return s.write(conn, data)
}

func (s *stream) write(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *stream) run(conn *websocket.Conn, done chan struct{}) {
	defer s.wg.Done()

	attempt := 0
	for {
		s.readLoop(conn)

		select {
		case <-done:
			return
		default:
		}

		s.wsMu.Lock()
		if s.wsConn == conn {
			s.wsConn = nil
			s.wsConnected = false
		}
		s.wsMu.Unlock()

		for {
			delay := backoff(attempt)
			attempt++
			s.log.Warn("Websocket disconnected, reconnecting in %s", delay)

			select {
			case <-done:
				return
			case <-time.After(delay):
			}

			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			next, err := s.dial(ctx)
			cancel()
			if err != nil {
				s.log.Error("Reconnect failed: %v", err)
				continue
			}

			s.wsMu.RLock()
			stopped := s.wsDone != done
			s.wsMu.RUnlock()
			if stopped {
				next.Close()
				return
			}

			conn = next
			s.attach(conn)
			attempt = 0
			s.log.Info("Websocket reconnected")
			break
		}
	}
}

// readLoop reads messages until the connection fails
func (s *stream) readLoop(conn *websocket.Conn) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error("WebSocket read error: %v", err)
			}
			return
		}
		if string(message) == "pong" {
			continue
		}
		s.onMessage(message)
	}
}

func (s *stream) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.write(conn, []byte("ping")); err != nil {
				return
			}
		}
	}
}

type tickerItem struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	AskPx  string `json:"askPx"`
	AskSz  string `json:"askSz"`
	BidPx  string `json:"bidPx"`
	BidSz  string `json:"bidSz"`
	Vol24h string `json:"vol24h"`
	Ts     string `json:"ts"`
}

// handleWSMessage processes incoming WebSocket messages
func (e *Exchange) handleWSMessage(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	if msg.Event != "" {
		if msg.Event == "error" {
			e.log.Warn("Websocket error event: %s %s", msg.Code, msg.Msg)
		}
		return
	}

	switch msg.Arg.Channel {
	case "tickers":
		e.handleTickers(msg.Data)
	case "orders":
		e.handleOrders(msg.Data)
	}
}

func (e *Exchange) handleTickers(data json.RawMessage) {
	var items []tickerItem
	if err := json.Unmarshal(data, &items); err != nil {
		return
	}

	for _, it := range items {
		e.handlerMu.RLock()
		handlers := e.tickerHandlers[it.InstID]
		e.handlerMu.RUnlock()
		if len(handlers) == 0 {
			continue
		}

		ts := time.Now()
		if ms, err := strconv.ParseInt(it.Ts, 10, 64); err == nil {
			ts = time.UnixMilli(ms)
		}
		ticker := &entity.Ticker{
			Instrument: it.InstID,
			LastPrice:  parseDecimal(it.Last),
			BidPrice:   parseDecimal(it.BidPx),
			BidSize:    parseDecimal(it.BidSz),
			AskPrice:   parseDecimal(it.AskPx),
			AskSize:    parseDecimal(it.AskSz),
			Volume24h:  parseDecimal(it.Vol24h),
			Timestamp:  ts,
		}
		for _, h := range handlers {
			h(ticker)
		}
	}
}

func (e *Exchange) handleOrders(data json.RawMessage) {
	var items []orderItem
	if err := json.Unmarshal(data, &items); err != nil {
		return
	}

	e.handlerMu.RLock()
	handlers := e.orderHandlers
	e.handlerMu.RUnlock()

	for _, it := range items {
		state := it.state()
		for _, h := range handlers {
			h(state)
		}
	}
}
