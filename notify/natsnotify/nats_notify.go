// Package natsnotify implements notify.Publisher/notify.Subscriber on top
// of a NATS JetStream work-queue stream, grounded on the connection,
// stream-provisioning, and durable-consumer conventions of
// messaging/transport/natsjetstream. Each job type gets its own subject
// under a shared stream; ClaimNext remains the single source of truth for
// who actually gets to run a job, so acks here are best-effort.
package natsnotify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	apperr "flowengine/errors"
	"flowengine/logging"
	"flowengine/notify"
)

// Config configures the JetStream-backed notifier.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	Conn          *nats.Conn // reuse an existing connection; takes precedence over URL
	Logger        logging.Logger
}

// Notifier is both a notify.Publisher and a notify.Subscriber backed by one
// JetStream-capable NATS connection.
type Notifier struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New connects (unless cfg.Conn is already set), ensures the backing stream
// exists, and returns a ready Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Stream == "" {
		cfg.Stream = "FLOWENGINE_JOBS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "flowengine.jobs."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "flowengine-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "notify.nats"))
	}

	var conn *nats.Conn
	var owns bool
	if cfg.Conn != nil {
		conn = cfg.Conn
	} else {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		var err error
		conn, err = nats.Connect(url)
		if err != nil {
			return nil, apperr.WrapError(err, apperr.ErrCodeNetwork, "connect to nats")
		}
		owns = true
	}

	js, err := conn.JetStream()
	if err != nil {
		if owns {
			conn.Close()
		}
		return nil, apperr.WrapError(err, apperr.ErrCodeNetwork, "acquire jetstream context")
	}

	n := &Notifier{cfg: cfg, logger: cfg.Logger, conn: conn, js: js, ownsConn: owns}
	if err := n.ensureStream(); err != nil {
		if owns {
			conn.Close()
		}
		return nil, err
	}
	return n, nil
}

func (n *Notifier) ensureStream() error {
	_, err := n.js.StreamInfo(n.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return apperr.WrapError(err, apperr.ErrCodeNetwork, "inspect job signal stream")
	}
	_, err = n.js.AddStream(&nats.StreamConfig{
		Name:      n.cfg.Stream,
		Subjects:  []string{n.cfg.SubjectPrefix + ">"},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return apperr.WrapError(err, apperr.ErrCodeNetwork, "create job signal stream")
	}
	return nil
}

func (n *Notifier) subject(jobType string) string {
	return n.cfg.SubjectPrefix + jobType
}

// Publish appends signal onto its job type's subject in the work-queue
// stream. JetStream's work-queue retention means the message is discarded
// once any consumer acks it - appropriate for an advisory, non-replayable
// hint rather than a durable event log.
func (n *Notifier) Publish(ctx context.Context, signal notify.JobSignal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(signal)
	if err != nil {
		return apperr.WrapError(err, apperr.ErrCodeInternal, "marshal job signal")
	}
	if _, err := n.js.Publish(n.subject(signal.JobType), data); err != nil {
		return apperr.WrapError(err, apperr.ErrCodeNetwork, "publish job signal")
	}
	return nil
}

// Subscribe durably queue-subscribes to jobType's subject, delivering each
// decoded JobSignal to onSignal until ctx is canceled. Multiple Subscribe
// calls for the same jobType act as a consumer group: JetStream
// load-balances deliveries across them.
func (n *Notifier) Subscribe(ctx context.Context, jobType string, onSignal func(notify.JobSignal)) error {
	durable := n.cfg.DurablePrefix + jobType
	sub, err := n.js.QueueSubscribe(n.subject(jobType), durable, func(msg *nats.Msg) {
		var signal notify.JobSignal
		if err := json.Unmarshal(msg.Data, &signal); err != nil {
			n.logger.Warn(context.Background(), "discarding malformed job signal", logging.Error(err))
			_ = msg.Ack()
			return
		}
		onSignal(signal)
		if err := msg.Ack(); err != nil {
			n.logger.Warn(context.Background(), "ack job signal failed", logging.Error(err))
		}
	}, nats.ManualAck(), nats.Durable(durable), nats.AckWait(n.cfg.AckWait))
	if err != nil {
		return apperr.WrapError(err, apperr.ErrCodeNetwork, "subscribe to job signals")
	}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return nil
}

// Close drains every subscription created by Subscribe and, if this
// Notifier owns its connection (no Config.Conn was supplied), closes it.
func (n *Notifier) Close() error {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n.ownsConn && n.conn != nil {
		n.conn.Close()
	}
	if firstErr != nil {
		return apperr.WrapError(firstErr, apperr.ErrCodeNetwork, "drain nats subscriptions")
	}
	return nil
}
