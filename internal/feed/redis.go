package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bos-cli/internal/model"
	"bos-cli/internal/position"

	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes events on the channel <prefix>changes:<table> and keeps the latest
// row of every task in the hash <prefix>rows:<table>, so late subscribers can load a snapshot.
type RedisTransport struct {
	client *redis.Client
	prefix string
	cfg    position.Config
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisTransport connects to redisURL (redis://host:port/db) and pings it.
func NewRedisTransport(redisURL string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisTransportWithClient(client), nil
}

// NewRedisTransportWithClient wraps an existing client. Close closes the client.
func NewRedisTransportWithClient(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client, prefix: "bos:"}
}

// WithLogger sets the logger used for undecodable messages.
func (r *RedisTransport) WithLogger(l *slog.Logger) *RedisTransport {
	r.logger = l
	return r
}

// WithConfig sets the positioning config used to decode raw rows.
func (r *RedisTransport) WithConfig(cfg position.Config) *RedisTransport {
	r.cfg = cfg
	return r
}

func (r *RedisTransport) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

func (r *RedisTransport) channel(table string) string { return r.prefix + "changes:" + table }
func (r *RedisTransport) rowsKey(table string) string { return r.prefix + "rows:" + table }

func (r *RedisTransport) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish updates the row hash and publishes ev in one MULTI/EXEC.
func (r *RedisTransport) Publish(ctx context.Context, ev model.ChangeEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	table := tableOf(ev)
	ev.Table = table
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var row []byte
	if ev.Op == model.ChangeUpsert {
		t, ok := taskOf(ev, r.cfg)
		if !ok {
			return fmt.Errorf("feed: undecodable row for %s", eventID(ev))
		}
		if row, err = json.Marshal(t); err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch ev.Op {
		case model.ChangeUpsert:
			pipe.HSet(ctx, r.rowsKey(table), eventID(ev), row)
		case model.ChangeDelete:
			pipe.HDel(ctx, r.rowsKey(table), eventID(ev))
		}
		pipe.Publish(ctx, r.channel(table), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s %s: %w", ev.Op, eventID(ev), err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server, so no event published
// after it returns is missed.
func (r *RedisTransport) Subscribe(ctx context.Context, table string) (<-chan model.ChangeEvent, error) {
	if table == "" {
		table = DefaultTable
	}
	if r.isClosed() {
		return nil, ErrClosed
	}
	ps := r.client.Subscribe(ctx, r.channel(table))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel(table), err)
	}
	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	out := make(chan model.ChangeEvent, 64)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer func() { _ = ps.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log().Warn("dropping undecodable change event", "channel", msg.Channel, "err", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Snapshot reads the row hash of table.
func (r *RedisTransport) Snapshot(ctx context.Context, table string) ([]model.Task, error) {
	if table == "" {
		table = DefaultTable
	}
	raw, err := r.client.HGetAll(ctx, r.rowsKey(table)).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", r.rowsKey(table), err)
	}
	out := make([]model.Task, 0, len(raw))
	for id, v := range raw {
		var t model.Task
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			r.log().Warn("skipping undecodable row", "id", id, "err", err)
			continue
		}
		out = append(out, t)
	}
	return position.SortTasksInPlace(out), nil
}

func (r *RedisTransport) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RedisTransport) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, ps := range subs {
		_ = ps.Close()
	}
	return r.client.Close()
}
