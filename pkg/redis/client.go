package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// Store operations get a short deadline; the session store sits on the hot
// path of every auth subrequest.
const (
	opTimeout = 250 * time.Millisecond
	txRetries = 3
)

// Init initializes the Redis client
func Init(url, password string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return err
	}

	if password != "" {
		opts.Password = password
	}
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout

	client = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}

	return nil
}

// SetClient sets the Redis client (used for testing)
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the Redis client
func GetClient() *redis.Client {
	return client
}

// Set stores a key-value pair with expiration
func Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value by key
func Get(ctx context.Context, key string) (string, error) {
	return client.Get(ctx, key).Result()
}

// GetDel retrieves a value by key and removes it in one step
func GetDel(ctx context.Context, key string) (string, error) {
	return client.GetDel(ctx, key).Result()
}

// Del removes a key
func Del(ctx context.Context, key string) error {
	return client.Del(ctx, key).Err()
}

// Exists reports whether a key is present
func Exists(ctx context.Context, key string) (bool, error) {
	n, err := client.Exists(ctx, key).Result()
	return n > 0, err
}

// WithTx runs fn inside a single MULTI/EXEC pipeline so multi-key writes are
// all-or-nothing. Failed transactions are retried up to the retry budget.
func WithTx(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		if _, err = client.TxPipelined(ctx, fn); err == nil {
			return nil
		}
	}
	return err
}
