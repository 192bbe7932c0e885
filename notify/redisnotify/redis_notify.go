// Package redisnotify implements notify.Publisher/notify.Subscriber on top
// of Redis Streams consumer groups, grounded on
// messaging/transport/redisstreams's XADD/XREADGROUP/XACK conventions.
// Each job type gets its own stream; ClaimNext remains the single source
// of truth for who actually gets to run a job, so acking here only bounds
// the consumer group's pending-entries list.
package redisnotify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperr "flowengine/errors"
	"flowengine/logging"
	"flowengine/notify"
)

// Config configures the Redis Streams-backed notifier.
type Config struct {
	Client       redis.UniversalClient // reuse an existing client; takes precedence over Addr
	Addr         string
	Username     string
	Password     string
	DB           int
	StreamPrefix string
	GroupName    string
	ConsumerName string
	BlockTimeout time.Duration
	Logger       logging.Logger
}

// Notifier is both a notify.Publisher and a notify.Subscriber backed by one
// Redis client.
type Notifier struct {
	cfg       Config
	logger    logging.Logger
	client    redis.UniversalClient
	ownClient bool

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// New constructs a Notifier, connecting a new client unless cfg.Client is set.
func New(cfg Config) (*Notifier, error) {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "flowengine:jobs:"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "flowengine"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "notify.redis"))
	}

	var client redis.UniversalClient
	var owns bool
	if cfg.Client != nil {
		client = cfg.Client
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		owns = true
	}

	return &Notifier{cfg: cfg, logger: cfg.Logger, client: client, ownClient: owns}, nil
}

func (n *Notifier) stream(jobType string) string {
	return n.cfg.StreamPrefix + jobType
}

// Publish XADDs signal onto its job type's stream.
func (n *Notifier) Publish(ctx context.Context, signal notify.JobSignal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return apperr.WrapError(err, apperr.ErrCodeInternal, "marshal job signal")
	}
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream(signal.JobType),
		Values: map[string]interface{}{"signal": string(data)},
	}).Err()
	if err != nil {
		return apperr.WrapError(err, apperr.ErrCodeNetwork, "publish job signal")
	}
	return nil
}

// Subscribe starts an XREADGROUP loop against jobType's stream, delivering
// each decoded JobSignal to onSignal until ctx is canceled. It acks every
// entry whether decoding succeeded or not - a malformed entry would
// otherwise wedge the consumer group's pending list forever.
func (n *Notifier) Subscribe(ctx context.Context, jobType string, onSignal func(notify.JobSignal)) error {
	stream := n.stream(jobType)
	if err := n.ensureGroup(ctx, stream); err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancels = append(n.cancels, cancel)
	n.mu.Unlock()

	go n.readLoop(readCtx, stream, onSignal)
	return nil
}

func (n *Notifier) ensureGroup(ctx context.Context, stream string) error {
	err := n.client.XGroupCreateMkStream(ctx, stream, n.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return apperr.WrapError(err, apperr.ErrCodeNetwork, "create job signal consumer group")
}

func (n *Notifier) readLoop(ctx context.Context, stream string, onSignal func(notify.JobSignal)) {
	args := &redis.XReadGroupArgs{
		Group:    n.cfg.GroupName,
		Consumer: n.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    10,
		Block:    n.cfg.BlockTimeout,
	}
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := n.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			n.logger.Warn(ctx, "job signal xreadgroup failed", logging.Error(err))
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				n.handleEntry(ctx, streamRes.Stream, entry, onSignal)
			}
		}
	}
}

func (n *Notifier) handleEntry(ctx context.Context, stream string, entry redis.XMessage, onSignal func(notify.JobSignal)) {
	defer func() {
		if err := n.client.XAck(ctx, stream, n.cfg.GroupName, entry.ID).Err(); err != nil {
			n.logger.Warn(ctx, "ack job signal failed", logging.Error(err))
		}
	}()

	raw, _ := entry.Values["signal"].(string)
	var signal notify.JobSignal
	if err := json.Unmarshal([]byte(raw), &signal); err != nil {
		n.logger.Warn(ctx, "discarding malformed job signal", logging.Error(err))
		return
	}
	onSignal(signal)
}

// Close cancels every reader loop started by Subscribe and, if this
// Notifier owns its client (no Config.Client was supplied), closes it too.
func (n *Notifier) Close() error {
	n.mu.Lock()
	cancels := n.cancels
	n.cancels = nil
	n.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if n.ownClient {
		if err := n.client.Close(); err != nil {
			return apperr.WrapError(err, apperr.ErrCodeNetwork, "close redis notifier")
		}
	}
	return nil
}
