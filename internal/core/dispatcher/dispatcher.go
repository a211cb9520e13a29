// Package dispatcher owns the lifecycle of every outbound call: limiter
// acquisition, transport execution, retry scheduling, and terminal result
// emission. A fixed worker pool drains a buffered queue; per call, attempts
// are strictly sequential and share one absolute deadline.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/limiter"
	"github.com/relaycall/relaycall/internal/core/registry"
	"github.com/relaycall/relaycall/internal/core/report"
	"github.com/relaycall/relaycall/internal/core/retry"
	"github.com/relaycall/relaycall/internal/core/transport"
	"github.com/relaycall/relaycall/internal/metrics"
)

// State tracks where a call sits in its lifecycle.
type State int

const (
	StateQueued State = iota
	StateLimiterWait
	StateExecuting
	StateRetryScheduled
	StateSucceeded
	StateFatalFailed
	StateTimedOut
	StateCancelled
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256

	// recordTimeout bounds best-effort audit writes after a call resolves.
	recordTimeout = 2 * time.Second
)

// Recorder persists terminal call results. Failures are non-fatal to the
// call; the result has already been produced.
type Recorder interface {
	RecordCall(ctx context.Context, spec core.CallSpec, result *core.CallResult) error
}

// Dispatcher coordinates registry, limiter, transport, and retry engine for
// every submitted call.
type Dispatcher struct {
	Registry  *registry.Registry
	Limiters  *limiter.Pool
	Transport transport.Transport
	Retry     *retry.Engine
	Reporter  *report.Reporter
	Recorder  Recorder
	Workers   int
	QueueSize int

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool

	// closeMu serializes queue sends against Close: submitters hold the read
	// lock across the send, so the queue is never closed under a live sender.
	closeMu sync.RWMutex
	queue   chan *queuedCall
	wg      sync.WaitGroup
}

type queuedCall struct {
	ctx    context.Context
	spec   core.CallSpec
	prov   core.Provenance
	future *resultFuture
	state  State
}

// Start spins up the worker pool. Submit calls Start lazily, so explicit
// Start is only needed when warm workers matter.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		workers := d.Workers
		if workers <= 0 {
			workers = defaultWorkers
		}
		queueSize := d.QueueSize
		if queueSize <= 0 {
			queueSize = defaultQueueSize
		}

		d.closeMu.Lock()
		defer d.closeMu.Unlock()
		if d.closed.Load() {
			return
		}

		d.queue = make(chan *queuedCall, queueSize)
		for i := 0; i < workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Close stops accepting new calls, drains the queue, and waits for in-flight
// calls to resolve. Submitters racing Close either win the send and resolve
// normally or observe the closed flag and resolve as cancelled.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		d.closed.Store(true)
		queue := d.queue
		if queue != nil {
			close(queue)
		}
		d.closeMu.Unlock()

		if queue != nil {
			d.wg.Wait()
		}
	})
}

// Submit runs one call through the pipeline and blocks until its terminal
// result. Exactly one CallResult is produced per submitted spec; Submit
// never returns an error value, only normalized results.
func (d *Dispatcher) Submit(ctx context.Context, spec core.CallSpec) *core.CallResult {
	if ctx == nil {
		ctx = context.Background()
	}

	prov := d.reporter().Begin(spec)

	if d.closed.Load() {
		return d.reporter().Failure(prov, core.OutcomeCancelled, 0, 0, "dispatcher is closed")
	}
	d.Start()

	qc := &queuedCall{ctx: ctx, spec: spec, prov: prov, future: newResultFuture(), state: StateQueued}

	// Re-check under the read lock: Close flips the flag and closes the
	// queue under the write lock, so a submitter that gets past this check
	// holds the lock for the whole send and can never hit a closed channel.
	d.closeMu.RLock()
	if d.closed.Load() {
		d.closeMu.RUnlock()
		return d.reporter().Failure(prov, core.OutcomeCancelled, 0, 0, "dispatcher is closed")
	}

	select {
	case d.queue <- qc:
		d.closeMu.RUnlock()
	case <-ctx.Done():
		d.closeMu.RUnlock()
		return d.finish(qc, d.cancelResult(ctx, prov, 0))
	}

	// Workers complete every future: all their waits are bounded by the
	// caller context plus the call deadline.
	return qc.future.wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for qc := range d.queue {
		d.run(qc)
	}
}

func (d *Dispatcher) run(qc *queuedCall) {
	prov := qc.prov

	cfg, err := d.Registry.Resolve(qc.spec.Endpoint)
	if err != nil {
		d.finishAndComplete(qc, d.reporter().Failure(prov, core.OutcomeFatalFailure, 0, 0, err.Error()))
		return
	}

	timeout := qc.spec.Timeout
	if timeout <= 0 {
		timeout = cfg.Timeout
	}
	callCtx, cancel := context.WithTimeout(qc.ctx, timeout)
	defer cancel()

	policy := retry.PolicyFor(cfg)
	attempts := 0

	for {
		qc.state = StateLimiterWait
		token, err := d.Limiters.Acquire(callCtx, cfg.Name)
		if err != nil {
			d.finishAndComplete(qc, d.limiterFailure(callCtx, prov, attempts, err))
			return
		}

		qc.state = StateExecuting
		attempts++
		_ = d.Limiters.RecordRequest(callCtx, cfg.Name)

		resp, execErr := d.Transport.Execute(callCtx, &transport.Request{
			Endpoint:       cfg,
			Operation:      qc.spec.Operation,
			Payload:        qc.spec.Payload,
			IdempotencyKey: qc.spec.IdempotencyKey,
			Metadata:       qc.spec.Metadata,
		})
		token.Release()

		if execErr == nil {
			d.finishAndComplete(qc, d.reporter().Success(prov, attempts, resp.StatusCode, resp.Payload))
			return
		}

		kind := retry.Classify(execErr)
		statusCode, retryAfter := transportDetails(execErr)

		if kind == transport.KindThrottled {
			_ = d.Limiters.RecordThrottle(callCtx, cfg.Name, retryAfter)
		}

		// The caller may have cancelled or the call deadline elapsed while
		// the attempt was in flight; both end the call without retries.
		if ctxErr := callCtx.Err(); ctxErr != nil {
			if errors.Is(qc.ctx.Err(), context.Canceled) {
				d.finishAndComplete(qc, d.cancelResult(qc.ctx, prov, attempts))
			} else {
				d.finishAndComplete(qc, d.reporter().Failure(prov, core.OutcomeTimedOut, attempts, statusCode, execErr.Error()))
			}
			return
		}

		dec := d.retryEngine().Decide(qc.spec, cfg, kind, attempts, execErr.Error())
		if !dec.Retry {
			d.finishAndComplete(qc, d.reporter().Failure(prov, dec.Outcome, attempts, statusCode, dec.Reason))
			return
		}

		qc.state = StateRetryScheduled
		metrics.RecordRetry(cfg.Name, kind.String())

		if result := d.backoff(qc, callCtx, prov, policy, attempts, retryAfter); result != nil {
			d.finishAndComplete(qc, result)
			return
		}
	}
}

// backoff sleeps before the next attempt, clipped to the remaining deadline.
// It returns a terminal result when the wait is interrupted, nil otherwise.
func (d *Dispatcher) backoff(qc *queuedCall, callCtx context.Context, prov core.Provenance, policy retry.Policy, attempts int, retryAfter time.Duration) *core.CallResult {
	remaining := time.Duration(0)
	if deadline, ok := callCtx.Deadline(); ok {
		remaining = time.Until(deadline)
	}

	delay := d.retryEngine().Delay(policy, attempts, remaining)
	if retryAfter > delay {
		delay = retryAfter
		if remaining > 0 && delay > remaining {
			delay = remaining
		}
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-callCtx.Done():
		if errors.Is(qc.ctx.Err(), context.Canceled) {
			return d.cancelResult(qc.ctx, prov, attempts)
		}
		return d.reporter().Failure(prov, core.OutcomeTimedOut, attempts, 0, "call deadline exceeded during backoff")
	}
}

func (d *Dispatcher) limiterFailure(callCtx context.Context, prov core.Provenance, attempts int, err error) *core.CallResult {
	switch {
	case errors.Is(err, context.Canceled):
		return d.cancelResult(callCtx, prov, attempts)
	case errors.Is(err, limiter.ErrLimiterTimeout):
		metrics.RecordLimiterTimeout(prov.Endpoint)
		return d.reporter().Failure(prov, core.OutcomeTimedOut, attempts, 0, err.Error())
	default:
		return d.reporter().Failure(prov, core.OutcomeFatalFailure, attempts, 0, err.Error())
	}
}

func (d *Dispatcher) cancelResult(ctx context.Context, prov core.Provenance, attempts int) *core.CallResult {
	reason := "call cancelled by caller"
	if ctx != nil && ctx.Err() != nil {
		reason = ctx.Err().Error()
	}
	return d.reporter().Failure(prov, core.OutcomeCancelled, attempts, 0, reason)
}

// finishAndComplete records the terminal result and releases the submitter.
func (d *Dispatcher) finishAndComplete(qc *queuedCall, result *core.CallResult) {
	qc.future.complete(d.finish(qc, result))
}

func (d *Dispatcher) finish(qc *queuedCall, result *core.CallResult) *core.CallResult {
	qc.state = terminalState(result.Outcome)
	metrics.RecordDispatch(qc.spec.Endpoint, result.Outcome.String(), result.Attempts, result.Elapsed)

	if d.Recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		_ = d.Recorder.RecordCall(recordCtx, qc.spec, result)
		cancel()
	}

	return result
}

func (d *Dispatcher) reporter() *report.Reporter {
	if d != nil && d.Reporter != nil {
		return d.Reporter
	}
	return &report.Reporter{}
}

func (d *Dispatcher) retryEngine() *retry.Engine {
	if d != nil && d.Retry != nil {
		return d.Retry
	}
	return &retry.Engine{}
}

func terminalState(outcome core.Outcome) State {
	switch outcome {
	case core.OutcomeSuccess:
		return StateSucceeded
	case core.OutcomeTimedOut:
		return StateTimedOut
	case core.OutcomeCancelled:
		return StateCancelled
	default:
		return StateFatalFailed
	}
}

func transportDetails(err error) (statusCode int, retryAfter time.Duration) {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode, terr.RetryAfter
	}
	return 0, 0
}
