// Package events exposes what happened in the ledger to notification
// services. Publishing happens after the financial write has committed and
// its failure never undoes that write.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Type string

const (
	PaymentRecorded   Type = "payment.recorded"
	PaymentReversed   Type = "payment.reversed"
	LoanPaidOff       Type = "loan.paid_off"
	DecisionRecorded  Type = "decision.recorded"
	AuctionListed     Type = "auction.listed"
	AuctionClosed     Type = "auction.closed"
	AuctionSettled    Type = "auction.settled"
	ContractFinalized Type = "contract.finalized"
	ContractVoided    Type = "contract.voided"
)

type Event struct {
	Type     Type           `json:"type"`
	LoanID   uuid.UUID      `json:"loan_id"`
	BranchID uuid.UUID      `json:"branch_id"`
	RefID    uuid.UUID      `json:"ref_id"`
	ActorID  uuid.UUID      `json:"actor_id"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Notify publishes evt and logs a failure instead of returning it.
func Notify(ctx context.Context, pub Publisher, log *zap.Logger, evt Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish event",
			zap.String("type", string(evt.Type)),
			zap.String("ref_id", evt.RefID.String()),
			zap.Error(err))
	}
}

// LogPublisher writes events to the log. It is the default when no broker
// is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info("event",
		zap.String("type", string(evt.Type)),
		zap.String("loan_id", evt.LoanID.String()),
		zap.String("ref_id", evt.RefID.String()),
		zap.Time("at", evt.At))
	return nil
}

// RedisPublisher sends events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(addr, channel string) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	return nil
}

// Ping checks the broker connection; used by the readiness probe.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
