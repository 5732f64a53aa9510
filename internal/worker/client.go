package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/researchd/internal/task"
)

// SubjectPrefix is prepended to the worker name to form the request subject.
const SubjectPrefix = "workers."

// DefaultTimeout bounds a single worker invocation attempt. Workers front an
// LLM, so this is deliberately generous.
const DefaultTimeout = 120 * time.Second

// ClientConfig configures the NATS worker client.
type ClientConfig struct {
	// Timeout bounds each invocation attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Retry controls retries of transient failures. Zero value: no retries.
	Retry RetryPolicy

	// RateLimit caps worker invocations per second across all tasks.
	// Zero disables rate limiting.
	RateLimit float64

	// Burst is the rate limiter burst size. Defaults to 1 when RateLimit
	// is set.
	Burst int
}

// Client invokes workers over NATS request/reply.
type Client struct {
	nc      *nats.Conn
	timeout time.Duration
	retry   RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a worker client on the given connection.
func NewClient(nc *nats.Conn, cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Retry.ApplyDefaults()

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		nc:      nc,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		limiter: limiter,
		logger:  logger,
	}
}

// Invoke sends one action to a worker and waits for its reply. Transient
// failures are retried per the configured policy with exponential backoff;
// worker-reported failures return immediately. Context cancellation is
// passed through untouched so the coordinator can distinguish it from a
// worker failure.
func (c *Client) Invoke(ctx context.Context, workerName, action, taskID string, params map[string]any) (*Outcome, error) {
	if params == nil {
		params = map[string]any{}
	}

	req := Request{
		TaskID:    taskID,
		AgentFrom: "coordinator",
		AgentTo:   workerName,
		Action:    action,
		Payload:   params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &Failure{Worker: workerName, Kind: task.ErrorKindInternal, Message: fmt.Sprintf("marshal request: %s", err)}
	}

	subject := SubjectPrefix + workerName
	backoff := c.retry.InitialBackoff

	var lastFailure *Failure
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		outcome, failure, err := c.request(ctx, subject, workerName, data)
		if err != nil {
			return nil, err
		}
		if failure == nil {
			if attempt > 0 {
				c.logger.Info("worker recovered after retries",
					zap.String("worker", workerName),
					zap.String("action", action),
					zap.Int("attempts", attempt+1))
			}
			return outcome, nil
		}

		lastFailure = failure
		if !failure.Transient() || attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Warn("transient worker failure, retrying",
			zap.String("worker", workerName),
			zap.String("action", action),
			zap.String("kind", string(failure.Kind)),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff = c.retry.next(backoff)
		}
	}

	return nil, lastFailure
}

// request performs a single request/reply round trip. It returns a context
// error directly when the caller's context ends; all other problems are
// classified into a *Failure.
func (c *Client) request(ctx context.Context, subject, workerName string, data []byte) (*Outcome, *Failure, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, classify(workerName, err), nil
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, &Failure{
			Worker:  workerName,
			Kind:    task.ErrorKindTransport,
			Message: fmt.Sprintf("malformed worker response: %s", err),
		}, nil
	}

	if !resp.Success {
		message := resp.Error
		if message == "" {
			message = "worker reported failure without detail"
		}
		return nil, &Failure{Worker: workerName, Kind: task.ErrorKindWorker, Message: message}, nil
	}

	return &Outcome{Worker: workerName, Data: resp.Data}, nil, nil
}

// classify maps a transport-level error to a failure kind.
func classify(workerName string, err error) *Failure {
	kind := task.ErrorKindTransport
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
		kind = task.ErrorKindTimeout
	}
	return &Failure{Worker: workerName, Kind: kind, Message: err.Error()}
}
