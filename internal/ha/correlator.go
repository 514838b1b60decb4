package ha

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"climatesync/internal/clock"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds how long a correlated request may stay pending.
const DefaultRequestTimeout = 30 * time.Second

// Result is the outcome of a correlated request.
type Result struct {
	Payload json.RawMessage
	Err     error
}

type pendingRequest struct {
	ch    chan Result
	timer clock.Timer
}

// Correlator hands out message ids and pairs result frames with the
// request that is waiting for them. Ids come from one counter that starts
// at 1 and is never reset for the lifetime of the Correlator.
type Correlator struct {
	clock   clock.Clock
	timeout time.Duration
	logger  *zap.Logger

	lastID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingRequest
}

// NewCorrelator creates a correlator. A non-positive timeout selects DefaultRequestTimeout.
func NewCorrelator(timeout time.Duration, clk clock.Clock, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		clock:   clk,
		timeout: timeout,
		logger:  logger,
		pending: make(map[int64]*pendingRequest),
	}
}

// NextID returns the next message id. Safe for concurrent use.
func (c *Correlator) NextID() int64 {
	return c.lastID.Add(1)
}

// Register starts tracking id and returns the channel its single Result is
// delivered on. The request fails with ErrRequestTimeout if nothing resolves
// it within the correlator timeout.
func (c *Correlator) Register(id int64) <-chan Result {
	p := &pendingRequest{ch: make(chan Result, 1)}

	c.mu.Lock()
	c.pending[id] = p
	p.timer = c.clock.AfterFunc(c.timeout, func() {
		if c.complete(id, Result{Err: ErrRequestTimeout}) {
			c.logger.Warn("Request timed out", zap.Int64("msg_id", id), zap.Duration("timeout", c.timeout))
		}
	})
	c.mu.Unlock()

	return p.ch
}

// Resolve delivers a result frame to its pending request. It reports false
// when nobody is waiting for msg.ID, e.g. a late reply after a timeout.
func (c *Correlator) Resolve(msg *Message) bool {
	res := Result{Payload: msg.Result}
	if msg.Success != nil && !*msg.Success {
		reqErr := &RequestError{Message: "request failed"}
		if msg.Error != nil {
			reqErr.Code = msg.Error.Code
			reqErr.Message = msg.Error.Message
		}
		res = Result{Err: reqErr}
	}
	return c.complete(msg.ID, res)
}

// Fail resolves a single pending request with err.
func (c *Correlator) Fail(id int64, err error) bool {
	return c.complete(id, Result{Err: err})
}

// FailAll resolves every pending request with err and returns how many there were.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.ch <- Result{Err: err}
	}
	return len(pending)
}

// Pending returns the number of requests still awaiting a result.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// complete removes id from the pending map and delivers res. Only the first
// completion for an id wins.
func (c *Correlator) complete(id int64, res Result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	p.timer.Stop()
	p.ch <- res
	return true
}
