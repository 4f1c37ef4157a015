package directory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"p2pmsg/internal/peer"
)

const keyPrefix = "peer:"

// Record is the stored view of one peer connection.
type Record struct {
	Address     string    `json:"address"`
	ConnID      string    `json:"conn_id"`
	Direction   string    `json:"direction"` // "inbound" or "outbound"
	Status      string    `json:"status"`    // "connected" or "disconnected"
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// RedisDirectory publishes connection events as Redis hashes.
// A nil *RedisDirectory is a valid no-op directory.
type RedisDirectory struct {
	client *redis.Client
	ttl    time.Duration
	owner  string // listen address of this node, namespaces the keys
}

// Options for NewRedisDirectory.
type Options struct {
	URL      string // redis://host:port/db or host:port
	Password string
	TTL      time.Duration
	Owner    string
}

// NewRedisDirectory connects to Redis and verifies the connection.
func NewRedisDirectory(opts Options) (*RedisDirectory, error) {
	redisOpts, err := clientOptions(opts)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return newWithClient(rdb, opts), nil
}

func newWithClient(rdb *redis.Client, opts Options) *RedisDirectory {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDirectory{client: rdb, ttl: ttl, owner: opts.Owner}
}

func clientOptions(opts Options) (*redis.Options, error) {
	if strings.HasPrefix(opts.URL, "redis://") || strings.HasPrefix(opts.URL, "rediss://") {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if opts.Password != "" {
			parsed.Password = opts.Password
		}
		return parsed, nil
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	return &redis.Options{
		Addr:         opts.URL,
		Password:     opts.Password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, nil
}

func (d *RedisDirectory) key(addr string) string {
	if d.owner == "" {
		return keyPrefix + addr
	}
	return keyPrefix + d.owner + ":" + addr
}

func (d *RedisDirectory) pattern() string {
	if d.owner == "" {
		return keyPrefix + "*"
	}
	return keyPrefix + d.owner + ":*"
}

// PeerConnected stores a connected record for info.
func (d *RedisDirectory) PeerConnected(ctx context.Context, info peer.PeerInfo) error {
	if d == nil || d.client == nil {
		return nil
	}
	direction := "outbound"
	if info.Inbound {
		direction = "inbound"
	}
	now := time.Now()
	key := d.key(info.Address.String())
	fields := map[string]any{
		"address":      info.Address.String(),
		"conn_id":      info.ConnID,
		"direction":    direction,
		"status":       "connected",
		"connected_at": info.ConnectedAt.Format(time.RFC3339Nano),
		"last_seen":    now.Format(time.RFC3339Nano),
	}

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, d.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// PeerDisconnected marks the record for addr as disconnected.
// The record expires after the configured TTL.
func (d *RedisDirectory) PeerDisconnected(ctx context.Context, addr peer.Address) error {
	if d == nil || d.client == nil {
		return nil
	}
	key := d.key(addr.String())
	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", "disconnected",
		"last_seen", time.Now().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, d.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns every stored record ordered by address.
func (d *RedisDirectory) List(ctx context.Context) ([]Record, error) {
	if d == nil || d.client == nil {
		return []Record{}, nil
	}

	records := []Record{}
	var cursor uint64
	for {
		// SCAN returns keys in batches without blocking
		keys, next, err := d.client.Scan(ctx, cursor, d.pattern(), 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			fields, err := d.client.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			records = append(records, recordFromFields(fields))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Address < records[j].Address })
	return records, nil
}

func recordFromFields(fields map[string]string) Record {
	r := Record{
		Address:   fields["address"],
		ConnID:    fields["conn_id"],
		Direction: fields["direction"],
		Status:    fields["status"],
	}
	r.ConnectedAt, _ = time.Parse(time.RFC3339Nano, fields["connected_at"])
	r.LastSeen, _ = time.Parse(time.RFC3339Nano, fields["last_seen"])
	return r
}

// Count returns the number of connected records.
func (d *RedisDirectory) Count(ctx context.Context) (int, error) {
	records, err := d.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if r.Status == "connected" {
			n++
		}
	}
	return n, nil
}

func (d *RedisDirectory) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// String describes the backing store, for logs.
func (d *RedisDirectory) String() string {
	if d == nil || d.client == nil {
		return "none"
	}
	return "redis(" + d.client.Options().Addr + "/" + strconv.Itoa(d.client.Options().DB) + ")"
}
