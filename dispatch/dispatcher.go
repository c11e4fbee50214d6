package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openai "github.com/sashabaranov/go-openai"
)

// Error kinds reported to the edge. The edge maps them to response bodies,
// so the set is part of the HTTP contract.
const (
	KindRunFailed           = "run_failed"
	KindExtractionFailed    = "extraction_failed"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindTimeout             = "timeout"
)

const (
	// DefaultPollInterval matches the upstream recommendation of checking
	// run status once per second.
	DefaultPollInterval = 1 * time.Second
	// DefaultMaxWait bounds the poll loop so a stuck run cannot pin a
	// request forever.
	DefaultMaxWait = 2 * time.Minute
)

var (
	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_dispatch_duration_seconds",
		Help:    "Wall time of one conversational turn, including polling.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dispatch_polls_total",
		Help: "Run status polls issued against the upstream provider.",
	})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dispatch_errors_total",
		Help: "Failed dispatches, by error kind.",
	}, []string{"kind"})
)

// Error is a structured dispatch failure.
type Error struct {
	Kind   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err, if it carries one.
func AsError(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}

// Result is one completed conversational turn.
type Result struct {
	Reply    string
	ThreadID string
}

// ThreadClient is the slice of the OpenAI Assistants API the dispatcher
// drives. *openai.Client satisfies it; tests substitute a fake.
type ThreadClient interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
}

// Dispatcher executes conversational turns against upstream assistants by
// driving the create thread, submit message, start run, poll, extract reply
// sequence. It holds no per-conversation state; the thread id owns that.
type Dispatcher struct {
	client       ThreadClient
	pollInterval time.Duration
	maxWait      time.Duration
}

// New creates a dispatcher with the default polling policy.
func New(client ThreadClient) *Dispatcher {
	return NewWithPolling(client, DefaultPollInterval, DefaultMaxWait)
}

// NewWithPolling creates a dispatcher with an explicit poll interval and
// overall wait bound. Non-positive values fall back to the defaults.
func NewWithPolling(client ThreadClient, pollInterval, maxWait time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Dispatcher{client: client, pollInterval: pollInterval, maxWait: maxWait}
}

// Ask runs one conversational turn for agentID. An empty threadID creates a
// new upstream thread (a billable resource, created at most once per call);
// a non-empty one appends to the existing conversation and never creates
// another. The stages run strictly in sequence.
func (d *Dispatcher) Ask(ctx context.Context, agentID, message, threadID string) (Result, error) {
	start := time.Now()
	res, err := d.ask(ctx, agentID, message, threadID)
	dispatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if de, ok := AsError(err); ok {
			errorsTotal.WithLabelValues(de.Kind).Inc()
		}
		return Result{}, err
	}
	return res, nil
}

func (d *Dispatcher) ask(ctx context.Context, agentID, message, threadID string) (Result, error) {
	if threadID == "" {
		thread, err := d.client.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return Result{}, upstreamError("creating thread", err)
		}
		threadID = thread.ID
	}

	_, err := d.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
	if err != nil {
		return Result{}, upstreamError("submitting message", err)
	}

	run, err := d.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: agentID})
	if err != nil {
		return Result{}, upstreamError("starting run", err)
	}

	run, err = d.waitForRun(ctx, threadID, run)
	if err != nil {
		return Result{}, err
	}

	switch run.Status {
	case openai.RunStatusCompleted:
		// fall through to reply extraction
	case openai.RunStatusFailed:
		return Result{}, &Error{Kind: KindRunFailed, Detail: runErrorDetail(run)}
	default:
		// Anything terminal that is not an explicit success is a failure,
		// including requires_action runs this relay never submits tools for.
		return Result{}, &Error{
			Kind:   KindRunFailed,
			Detail: fmt.Sprintf("run ended with status %q", run.Status),
		}
	}

	reply, err := d.extractReply(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: reply, ThreadID: threadID}, nil
}

// waitForRun polls run status at the configured interval while the run is
// queued or in progress. The wait between polls is a timer, not a busy loop,
// so concurrent requests keep flowing. The overall wait is bounded by
// maxWait.
func (d *Dispatcher) waitForRun(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	deadline := time.Now().Add(d.maxWait)
	for run.Status == openai.RunStatusQueued || run.Status == openai.RunStatusInProgress {
		if time.Now().After(deadline) {
			return run, &Error{
				Kind:   KindTimeout,
				Detail: fmt.Sprintf("run %s still %s after %s", run.ID, run.Status, d.maxWait),
			}
		}

		timer := time.NewTimer(d.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return run, &Error{Kind: KindUpstreamUnavailable, Detail: "request cancelled while polling", Err: ctx.Err()}
		case <-timer.C:
		}

		var err error
		run, err = d.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return run, upstreamError("polling run", err)
		}
		pollsTotal.Inc()
	}
	return run, nil
}

// extractReply fetches the thread's messages (newest first) and returns the
// first text segment of the most recent assistant message. A missing
// assistant message or a non-text leading segment is an extraction failure,
// never a silent empty reply.
func (d *Dispatcher) extractReply(ctx context.Context, threadID string) (string, error) {
	list, err := d.client.ListMessage(ctx, threadID, nil, nil, nil, nil, nil)
	if err != nil {
		return "", upstreamError("listing messages", err)
	}

	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		if len(msg.Content) == 0 || msg.Content[0].Type != "text" || msg.Content[0].Text == nil {
			return "", &Error{Kind: KindExtractionFailed, Detail: "assistant reply is not text"}
		}
		return msg.Content[0].Text.Value, nil
	}
	return "", &Error{Kind: KindExtractionFailed, Detail: "no assistant reply found"}
}

func runErrorDetail(run openai.Run) string {
	if run.LastError == nil {
		return "upstream reported a failed run without detail"
	}
	return fmt.Sprintf("%s: %s", run.LastError.Code, run.LastError.Message)
}

func upstreamError(stage string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Detail: stage + " failed", Err: err}
}
