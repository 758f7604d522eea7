package broker

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

const (
	streamURI         = "wss://smartapisocket.angelone.in/smart-stream"
	heartbeatInterval = 10 * time.Second

	// Subscription modes
	ModeLTP       = 1
	ModeQuote     = 2
	ModeSnapQuote = 3
)

// Exchange segment codes used on the wire.
const (
	SegNSECM = 1
	SegNSEFO = 2
	SegBSECM = 3
	SegMCXFO = 5
)

var segmentName = map[int]string{
	SegNSECM: "NSE",
	SegNSEFO: "NFO",
	SegBSECM: "BSE",
	SegMCXFO: "MCX",
}

// TokenList groups tokens by exchange segment for subscription.
type TokenList struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// StreamConfig configures the market data stream connection.
type StreamConfig struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	// Reconnect backoff. Defaults: 5 attempts, 2s base, doubling.
	MaxRetries int
	RetryBase  time.Duration
}

// Stream is the market data WebSocket connection. It parses Quote-mode
// binary frames into RawTicks and delivers them via OnTick.
type Stream struct {
	cfg StreamConfig

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[int][]TokenList // mode -> token lists, replayed on reconnect
	closed        bool

	// OnTick receives every parsed tick; must not block.
	OnTick func(model.RawTick)

	// OnReconnect fires after a successful reconnect (for metrics).
	OnReconnect func()
}

// NewStream creates a stream. Connect must be called before Subscribe.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.AuthToken == "" || cfg.APIKey == "" || cfg.ClientCode == "" || cfg.FeedToken == "" {
		return nil, errors.New("broker: stream requires auth, api key, client code, and feed token")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	return &Stream{
		cfg:           cfg,
		subscriptions: make(map[int][]TokenList),
	}, nil
}

// Connect dials the stream and starts the read and heartbeat loops.
// Blocks until ctx is cancelled or retries are exhausted.
func (s *Stream) Connect(ctx context.Context) error {
	if err := s.dial(); err != nil {
		return err
	}

	for {
		err := s.readLoop(ctx)
		if ctx.Err() != nil {
			s.close()
			return nil
		}
		log.Printf("[stream] connection lost: %v", err)

		if err := s.reconnect(ctx); err != nil {
			s.close()
			return err
		}
	}
}

func (s *Stream) dial() error {
	header := http.Header{}
	header.Set("Authorization", s.cfg.AuthToken)
	header.Set("x-api-key", s.cfg.APIKey)
	header.Set("x-client-code", s.cfg.ClientCode)
	header.Set("x-feed-token", s.cfg.FeedToken)

	conn, resp, err := websocket.DefaultDialer.Dial(streamURI, header)
	if err != nil {
		if resp != nil {
			log.Printf("[stream] dial failed: %s", resp.Status)
		}
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	log.Printf("[stream] connected")
	return nil
}

// reconnect retries with exponential backoff and replays subscriptions.
func (s *Stream) reconnect(ctx context.Context) error {
	delay := s.cfg.RetryBase
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := s.dial(); err != nil {
			log.Printf("[stream] reconnect attempt %d/%d failed: %v", attempt, s.cfg.MaxRetries, err)
			delay *= 2
			continue
		}

		if err := s.resubscribe(); err != nil {
			log.Printf("[stream] resubscribe failed: %v", err)
			delay *= 2
			continue
		}

		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		return nil
	}
	return errors.New("broker: stream retries exhausted")
}

// Subscribe requests ticks for the given tokens and remembers them for
// reconnect replay.
func (s *Stream) Subscribe(correlationID string, mode int, tokens []TokenList) error {
	s.mu.Lock()
	s.subscriptions[mode] = append(s.subscriptions[mode], tokens...)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("broker: stream not connected")
	}
	return conn.WriteJSON(map[string]interface{}{
		"correlationID": correlationID,
		"action":        1,
		"params": map[string]interface{}{
			"mode":      mode,
			"tokenList": tokens,
		},
	})
}

func (s *Stream) resubscribe() error {
	s.mu.Lock()
	subs := make(map[int][]TokenList, len(s.subscriptions))
	for mode, lists := range s.subscriptions {
		subs[mode] = lists
	}
	conn := s.conn
	s.mu.Unlock()

	for mode, lists := range subs {
		err := conn.WriteJSON(map[string]interface{}{
			"action": 1,
			"params": map[string]interface{}{
				"mode":      mode,
				"tokenList": lists,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// readLoop consumes frames until the connection drops or ctx ends.
func (s *Stream) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go s.heartbeat(ctx, conn, stop)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch mt {
		case websocket.BinaryMessage:
			tick, ok := parseQuoteFrame(msg)
			if ok && s.OnTick != nil {
				s.OnTick(tick)
			}
		case websocket.TextMessage:
			// Text frames are heartbeat acks ("pong"); nothing to do.
		}
	}
}

func (s *Stream) heartbeat(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
}

// parseQuoteFrame decodes a Quote-mode binary frame. Layout (little
// endian): mode u8, exchange u8, token char[25], sequence i64, exchange
// timestamp i64 (epoch ms), LTP i64 (paise), then quote fields where
// bytes 67:75 carry the session-cumulative volume.
func parseQuoteFrame(b []byte) (model.RawTick, bool) {
	if len(b) < 51 {
		return model.RawTick{}, false
	}

	mode := int(b[0])
	if mode != ModeLTP && mode != ModeQuote && mode != ModeSnapQuote {
		return model.RawTick{}, false
	}

	exchange := segmentName[int(b[1])]
	if exchange == "" {
		return model.RawTick{}, false
	}

	token := tokenString(b[2:27])
	if token == "" {
		return model.RawTick{}, false
	}

	exTS := int64(binary.LittleEndian.Uint64(b[35:43]))
	ltp := int64(binary.LittleEndian.Uint64(b[43:51]))

	var cumVolume int64
	if mode != ModeLTP && len(b) >= 75 {
		cumVolume = int64(binary.LittleEndian.Uint64(b[67:75]))
	}

	ts := time.Now().In(markethours.IST)
	if exTS > 0 {
		ts = time.Unix(0, exTS*int64(time.Millisecond)).In(markethours.IST)
	}

	return model.RawTick{
		Token:     token,
		Exchange:  exchange,
		Price:     ltp,
		CumVolume: cumVolume,
		TickTS:    ts,
	}, true
}

func tokenString(b []byte) string {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
