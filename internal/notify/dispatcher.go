package notify

import (
	"context"
	"fmt"
	"time"

	"scenehub/internal/channels"
	"scenehub/internal/errors"
	"scenehub/internal/logging"
	"scenehub/internal/scene"
)

// Status values reported by the dispatcher.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// maxErrorLen caps the error description carried back to the caller.
const maxErrorLen = 200

// Request describes one user notification.
type Request struct {
	UserID  int64
	Message string
	// SkipIfPage suppresses delivery when the user's active scene is
	// currently showing one of these pages.
	SkipIfPage []string
	ReplyTo    int64
	ParseMode  string
}

// Result is the dispatch outcome. Delivery failures are reported here, never
// raised to the caller.
type Result struct {
	Status string
	Sent   bool
	Reason string
	Error  string
	// Channel names the backend that handled (or failed) the delivery,
	// empty when dispatch never reached one.
	Channel string
}

// SceneLookup is the directory surface the dispatcher needs.
type SceneLookup interface {
	Get(userID int64) (scene.Session, bool)
}

// ExecutorSource resolves a messaging backend by name.
type ExecutorSource interface {
	Get(name string) (channels.Executor, bool)
}

// Metrics receives notification outcome counts.
type Metrics interface {
	RecordNotification(ctx context.Context, status string)
}

// Dispatcher delivers a message to one user, honoring page-aware
// suppression: a user already looking at the relevant page is not pinged
// about it.
type Dispatcher struct {
	scenes    SceneLookup
	executors ExecutorSource
	logger    logging.Logger
	metrics   Metrics

	defaultChannel  string
	deliveryTimeout time.Duration
	retry           errors.RetryConfig
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDeliveryTimeout bounds each delivery attempt.
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.deliveryTimeout = d }
}

// WithRetryConfig overrides the transient-failure retry policy.
func WithRetryConfig(cfg errors.RetryConfig) DispatcherOption {
	return func(dp *Dispatcher) { dp.retry = cfg }
}

// WithMetrics wires notification counters.
func WithMetrics(m Metrics) DispatcherOption {
	return func(dp *Dispatcher) { dp.metrics = m }
}

// NewDispatcher constructs a Dispatcher sending through the named default
// channel.
func NewDispatcher(scenes SceneLookup, executors ExecutorSource, defaultChannel string, logger logging.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		scenes:          scenes,
		executors:       executors,
		logger:          logging.OrNop(logger),
		defaultChannel:  defaultChannel,
		deliveryTimeout: 10 * time.Second,
		retry:           errors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify delivers req.Message to req.UserID. The returned Result always
// describes the outcome; no delivery error escapes as a Go error.
func (d *Dispatcher) Notify(ctx context.Context, req Request) Result {
	if len(req.SkipIfPage) > 0 {
		if session, ok := d.scenes.Get(req.UserID); ok {
			page := session.CurrentPage()
			for _, skip := range req.SkipIfPage {
				if page == skip {
					d.logger.Debug("notification skipped: user=%d already on page %q", req.UserID, page)
					return d.finish(ctx, Result{
						Status: StatusSkipped,
						Sent:   false,
						Reason: fmt.Sprintf("user is viewing page %q", page),
					})
				}
			}
		}
	}

	executor, ok := d.executors.Get(d.defaultChannel)
	if !ok {
		return d.finish(ctx, Result{
			Status: StatusError,
			Sent:   false,
			Error:  fmt.Sprintf("no %q messaging backend registered", d.defaultChannel),
		})
	}

	opts := channels.SendOptions{
		ReplyTo:   req.ReplyTo,
		ParseMode: req.ParseMode,
		// Every notification carries the standard delete affordance.
		Dismissable: true,
	}

	sendCtx := ctx
	if d.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.deliveryTimeout)
		defer cancel()
	}

	err := errors.Retry(sendCtx, d.retry, d.logger, func(ctx context.Context) error {
		_, sendErr := executor.SendMessage(ctx, req.UserID, req.Message, opts)
		return sendErr
	})
	if err != nil {
		wrapped := errors.NewDeliveryError(executor.Type(), req.UserID, err)
		d.logger.Warn("notification failed: %v", wrapped)
		return d.finish(ctx, Result{
			Status:  StatusError,
			Sent:    false,
			Error:   errors.Truncate(wrapped, maxErrorLen),
			Channel: executor.Type(),
		})
	}

	d.logger.Debug("notification delivered: user=%d channel=%s", req.UserID, executor.Type())
	return d.finish(ctx, Result{Status: StatusOK, Sent: true, Channel: executor.Type()})
}

func (d *Dispatcher) finish(ctx context.Context, res Result) Result {
	if d.metrics != nil {
		d.metrics.RecordNotification(ctx, res.Status)
	}
	return res
}
