// Package chainfeed streams new block headers over a websocket RPC
// endpoint. It speaks raw JSON-RPC (eth_subscribe "newHeads") so the
// supply bot can react to blocks without polling, reconnecting with
// jittered backoff when the endpoint drops.
package chainfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultPingInterval = 15 * time.Second

// Head is the slice of a newHeads notification the bots care about.
type Head struct {
	Number    string `json:"number"` // hex quantity
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"` // hex quantity
}

// BlockNumber decodes the head's hex block number; zero on malformed
// input.
func (h Head) BlockNumber() uint64 {
	s := h.Number
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0
		}
		n = n<<4 | d
	}
	return n
}

type subscribeRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

// envelope covers both the subscribe ack and subsequent notifications.
type envelope struct {
	ID     int             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	OutBuffer int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.OutBuffer <= 0 {
		o.OutBuffer = 64
	}
	return o
}

// Start connects to the websocket endpoint and emits decoded heads until
// ctx is cancelled. Both channels close on return; errors are advisory
// and never stop the feed.
func Start(ctx context.Context, url string, opts Options) (<-chan Head, <-chan error) {
	opts = opts.withDefaults()

	out := make(chan Head, opts.OutBuffer)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				emitErrNonBlocking(errs, fmt.Errorf("chainfeed dial: %w", err))
				sleepWithJitter(ctx, backoff)
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}

			backoff = opts.BackoffMin

			if err := runSession(ctx, conn, opts.PingInterval, out, errs); err != nil && ctx.Err() == nil {
				emitErrNonBlocking(errs, err)
			}

			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()

	return out, errs
}

func runSession(
	ctx context.Context,
	conn *websocket.Conn,
	pingInterval time.Duration,
	out chan<- Head,
	errs chan<- error,
) error {
	if conn == nil {
		return fmt.Errorf("chainfeed session: nil conn")
	}

	req := subscribeRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []string{"newHeads"}}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("chainfeed subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		return fmt.Errorf("chainfeed subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	go func() {
		defer stopAll()
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				werr := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if werr != nil {
					emitErrNonBlocking(errs, fmt.Errorf("chainfeed ping: %w", werr))
					_ = conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			stopAll()
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("chainfeed read: %w", err)
		}

		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			emitErrNonBlocking(errs, fmt.Errorf("chainfeed json decode: %w", err))
			continue
		}
		if env.Error != nil {
			return fmt.Errorf("chainfeed subscribe: rpc error %d: %s", env.Error.Code, env.Error.Message)
		}
		if env.Params == nil {
			// subscribe ack
			continue
		}

		var h Head
		if err := json.Unmarshal(env.Params.Result, &h); err != nil {
			emitErrNonBlocking(errs, fmt.Errorf("chainfeed head decode: %w", err))
			continue
		}

		select {
		case out <- h:
		default:
		}
	}
}

func emitErrNonBlocking(ch chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int63n(int64(2*j+1)) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
