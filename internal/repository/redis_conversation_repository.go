package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

type redisConversationRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisConversationRepository stores each session as a Redis list of JSON
// entries plus a ticket binding key. Every write refreshes the TTL on both.
func NewRedisConversationRepository(client *redis.Client, prefix string, ttl time.Duration) ConversationRepository {
	return &redisConversationRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisConversationRepository) messagesKey(sessionKey string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", r.prefix, sessionKey)
}

func (r *redisConversationRepository) ticketKey(sessionKey string) string {
	return fmt.Sprintf("%s:conversation:%s:ticket", r.prefix, sessionKey)
}

func (r *redisConversationRepository) History(ctx context.Context, sessionKey string) ([]domain.ChatMessage, error) {
	raw, err := r.client.LRange(ctx, r.messagesKey(sessionKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	history := make([]domain.ChatMessage, 0, len(raw))
	for _, entry := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("decode conversation entry: %w", err)
		}
		history = append(history, msg)
	}
	return history, nil
}

func (r *redisConversationRepository) Append(ctx context.Context, sessionKey string, messages ...domain.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, msg := range messages {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode conversation entry: %w", err)
		}
		values = append(values, encoded)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.messagesKey(sessionKey), values...)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.messagesKey(sessionKey), r.ttl)
		pipe.Expire(ctx, r.ticketKey(sessionKey), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) BindTicket(ctx context.Context, sessionKey string, ticketID int64) error {
	if err := r.client.Set(ctx, r.ticketKey(sessionKey), ticketID, r.ttl).Err(); err != nil {
		return fmt.Errorf("bind ticket: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) SwapTicket(ctx context.Context, sessionKey string, expected, ticketID int64) (int64, error) {
	key := r.ticketKey(sessionKey)
	if expected == 0 {
		won, err := r.client.SetNX(ctx, key, ticketID, r.ttl).Result()
		if err != nil {
			return 0, fmt.Errorf("bind ticket: %w", err)
		}
		if won {
			return ticketID, nil
		}
		return r.TicketFor(ctx, sessionKey)
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := parseBinding(tx.Get(ctx, key).Result())
		if err != nil {
			return err
		}
		if current != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, ticketID, r.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("swap ticket binding: %w", err)
	}
	return r.TicketFor(ctx, sessionKey)
}

func (r *redisConversationRepository) TicketFor(ctx context.Context, sessionKey string) (int64, error) {
	return parseBinding(r.client.Get(ctx, r.ticketKey(sessionKey)).Result())
}

func parseBinding(raw string, err error) (int64, error) {
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load ticket binding: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ticket binding %q: %w", raw, err)
	}
	return id, nil
}

func (r *redisConversationRepository) Reset(ctx context.Context, sessionKey string) error {
	if err := r.client.Del(ctx, r.messagesKey(sessionKey), r.ticketKey(sessionKey)).Err(); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	return nil
}
