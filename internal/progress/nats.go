package progress

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

// DefaultSubjectPrefix is the subject root events are published under.
const DefaultSubjectPrefix = "nbpilot.progress"

// NATSPublisher publishes events as JSON to
//
//	{prefix}.{task_id}.{phase}
//
// nats.Conn buffers publishes, so Publish does not wait on the server.
type NATSPublisher struct {
	conn     *nats.Conn
	prefix   string
	logger   *zap.Logger
	failures atomic.Int64
}

// NATSOption configures a NATSPublisher.
type NATSOption func(*NATSPublisher)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(p *NATSPublisher) {
		p.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// WithNATSLogger sets the zap logger.
func WithNATSLogger(l *zap.Logger) NATSOption {
	return func(p *NATSPublisher) {
		p.logger = l
	}
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(nc *nats.Conn, opts ...NATSOption) *NATSPublisher {
	p := &NATSPublisher{conn: nc, prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("progress.nats")
	return p
}

// Subject returns the subject ev is published to.
func (p *NATSPublisher) Subject(ev orchestrator.Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(ev.TaskID), subjectToken(string(ev.Phase)))
}

// Publish sends ev. Failures are logged and counted, never returned, so
// the publisher can be used directly as a sink.
func (p *NATSPublisher) Publish(ev orchestrator.Event) {
	if err := p.publish(ev); err != nil {
		p.failures.Add(1)
		p.logger.Warn("publish progress event failed",
			zap.String("task.id", ev.TaskID),
			zap.String("phase", string(ev.Phase)),
			zap.Error(err),
		)
	}
}

func (p *NATSPublisher) publish(ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Sink returns Publish as an orchestrator.ProgressSink.
func (p *NATSPublisher) Sink() orchestrator.ProgressSink {
	return p.Publish
}

// Failures returns the number of events that could not be published.
func (p *NATSPublisher) Failures() int64 {
	return p.failures.Load()
}

// subjectToken makes s usable as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
