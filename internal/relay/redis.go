package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisInbox keeps inboxes in Redis: hash where:{recipient} maps sender to an
// envelope and set sent:{sender} remembers who the sender published to.
type RedisInbox struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to addr
func NewRedis(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

// NewRedisInbox creates an inbox whose keys expire ttl after the last write
func NewRedisInbox(rdb *redis.Client, ttl time.Duration) *RedisInbox {
	return &RedisInbox{rdb: rdb, ttl: ttl}
}

func whereKey(recipient string) string { return "where:" + recipient }
func sentKey(sender string) string     { return "sent:" + sender }

func (r *RedisInbox) Publish(ctx context.Context, sender string, payload map[string]string, at time.Time) error {
	previous, err := r.rdb.SMembers(ctx, sentKey(sender)).Result()
	if err != nil {
		return fmt.Errorf("load recipients of %s: %w", sender, err)
	}

	envelopes := make(map[string][]byte, len(payload))
	for recipient, ct := range payload {
		raw, err := json.Marshal(Envelope{Ciphertext: ct, At: at})
		if err != nil {
			return err
		}
		envelopes[recipient] = raw
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, recipient := range previous {
			if _, keep := envelopes[recipient]; !keep {
				pipe.HDel(ctx, whereKey(recipient), sender)
			}
		}
		pipe.Del(ctx, sentKey(sender))

		for recipient, raw := range envelopes {
			pipe.HSet(ctx, whereKey(recipient), sender, raw)
			pipe.Expire(ctx, whereKey(recipient), r.ttl)
			pipe.SAdd(ctx, sentKey(sender), recipient)
		}
		if len(envelopes) > 0 {
			pipe.Expire(ctx, sentKey(sender), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish for %s: %w", sender, err)
	}
	return nil
}

func (r *RedisInbox) Fetch(ctx context.Context, recipient string) (map[string]Envelope, error) {
	raw, err := r.rdb.HGetAll(ctx, whereKey(recipient)).Result()
	if err != nil {
		return nil, fmt.Errorf("load inbox of %s: %w", recipient, err)
	}

	out := make(map[string]Envelope, len(raw))
	for sender, v := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(v), &env); err != nil {
			continue
		}
		out[sender] = env
	}
	return out, nil
}
