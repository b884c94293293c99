package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"travel_crm_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	defaultQueue       = "default"
	onDemandMaxRetry   = 5
	runNowUniqueWindow = time.Minute
)

// Client enqueues on-demand follow-up and scoring tasks.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := redisOptFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueStageChanged(ctx context.Context, leadID uuid.UUID, changedAt time.Time) error {
	task, err := NewStageChangedTask(StageChangedPayload{LeadID: leadID.String(), ChangedAt: changedAt})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) EnqueueInboundMessage(ctx context.Context, leadID uuid.UUID, receivedAt time.Time) error {
	task, err := NewInboundMessageTask(InboundMessagePayload{LeadID: leadID.String(), ReceivedAt: receivedAt})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) EnqueueContactUpdated(ctx context.Context, leadID uuid.UUID) error {
	task, err := NewContactUpdatedTask(LeadPayload{LeadID: leadID.String()})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) EnqueueScoreRecalculation(ctx context.Context, leadID uuid.UUID) error {
	task, err := NewLeadScoreRecalculateTask(LeadPayload{LeadID: leadID.String()})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// EnqueueFollowUpRun asks the worker for an immediate full pass. Requests
// within a minute of each other collapse into one task.
func (c *Client) EnqueueFollowUpRun(ctx context.Context) error {
	err := c.enqueue(ctx, NewFollowUpRunTask(), asynq.Unique(runNowUniqueWindow), asynq.MaxRetry(0))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("task client not configured")
	}
	opts = append([]asynq.Option{asynq.Queue(c.queue), asynq.MaxRetry(onDemandMaxRetry)}, opts...)
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if queue := cfg.GetAsynqQueueName(); queue != "" {
		return queue
	}
	return defaultQueue
}

func redisOptFromConfig(cfg config.SchedulerConfig) (asynq.RedisClientOpt, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("redis url not configured")
	}
	return redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

// NewRedisClient opens a plain go-redis client on the same URL, for the run lock.
func NewRedisClient(cfg config.SchedulerConfig) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}
