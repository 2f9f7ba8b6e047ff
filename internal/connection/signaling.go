package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
)

const signalingReadLimit int64 = 512 * 1024

// SignalingClient is a bidirectional websocket client to the signalling
// server (spec.md §4.8, §6). It reconnects with exponential backoff and
// dispatches ASSIGN_PEER_ID/SESSION_OFFER/SESSION_ANSWER/NEW_ICE_CANDIDATE
// server messages to registered callbacks. Grounded on
// internal/ws/client.go's Run/connectAndServe reconnect loop.
type SignalingClient struct {
	URL string

	OnAssignPeerID  func(peerID string)
	OnSessionOffer  func(env envelope.Envelope)
	OnSessionAnswer func(env envelope.Envelope)
	OnICECandidate  func(env envelope.Envelope)
	OnStateChange   func(state string, err error)

	mu          sync.Mutex
	conn        *websocket.Conn
	localPeerID string
	backoff     *Backoff
}

// NewSignalingClient creates a client for url with the given reconnect
// backoff bounds.
func NewSignalingClient(url string, backoffBase, backoffMax time.Duration) *SignalingClient {
	return &SignalingClient{
		URL:     url,
		backoff: NewBackoff(backoffBase, backoffMax),
	}
}

// LocalPeerID returns the peer ID assigned by the server, or "" before one
// has arrived.
func (c *SignalingClient) LocalPeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localPeerID
}

// Run connects to the signalling server and processes messages until ctx is
// cancelled, automatically reconnecting with exponential backoff.
func (c *SignalingClient) Run(ctx context.Context) error {
	c.notifyState("connecting", nil)
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if connected {
			c.backoff.Reset()
		}
		c.notifyState("disconnected", err)

		delay := c.backoff.Next()
		logger.Warn("connection: signalling disconnected, reconnecting", "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notifyState("connecting", nil)
	}
}

func (c *SignalingClient) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

func (c *SignalingClient) connectAndServe(ctx context.Context) (connected bool, err error) {
	conn, _, dialErr := websocket.Dial(ctx, c.URL, &websocket.DialOptions{Subprotocols: []string{"json"}})
	if dialErr != nil {
		return false, fmt.Errorf("connection: dial: %w", dialErr)
	}
	conn.SetReadLimit(signalingReadLimit)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.CloseNow()
	connected = true

	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			return connected, fmt.Errorf("connection: read: %w", readErr)
		}

		env, parseErr := envelope.Unmarshal(data)
		if parseErr != nil {
			logger.Warn("connection: dropping malformed server message", "err", parseErr)
			continue
		}
		c.dispatch(env)
	}
}

func (c *SignalingClient) dispatch(env envelope.Envelope) {
	localPeerID := c.LocalPeerID()

	switch env.Type() {
	case envelope.AssignPeerID:
		c.mu.Lock()
		c.localPeerID = env.Body().AssignedPeerID
		c.mu.Unlock()
		if c.OnAssignPeerID != nil {
			c.OnAssignPeerID(env.Body().AssignedPeerID)
		}
	case envelope.SessionOffer:
		if err := validateSessionMessage(env, localPeerID); err != nil {
			logger.Warn("connection: dropping invalid session offer", "err", err)
			return
		}
		if c.OnSessionOffer != nil {
			c.OnSessionOffer(env)
		}
	case envelope.SessionAnswer:
		if err := validateSessionMessage(env, localPeerID); err != nil {
			logger.Warn("connection: dropping invalid session answer", "err", err)
			return
		}
		if c.OnSessionAnswer != nil {
			c.OnSessionAnswer(env)
		}
	case envelope.NewICECandidate:
		if err := validateICECandidate(env); err != nil {
			logger.Warn("connection: dropping invalid ice candidate", "err", err)
			return
		}
		if c.OnICECandidate != nil {
			c.OnICECandidate(env)
		}
	default:
		logger.Debug("connection: ignoring server message", "type", env.Type())
	}
}

// Send serialises env and writes it to the signalling websocket. Returns
// ErrServerClosed if no connection is currently established.
func (c *SignalingClient) Send(ctx context.Context, env envelope.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrServerClosed
	}

	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("connection: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
