package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/retry"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

const (
	// DefaultRedisKeyPrefix prefixes every key the Redis store writes.
	DefaultRedisKeyPrefix = "routegw:routes"

	backendRedis = "redis"
)

// redisRetryConfig returns the retry configuration for Redis operations.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError reports whether err is worth another attempt.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, util.ErrNotFound) || errors.Is(err, util.ErrInvalidInput) {
		return false
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}

// RedisStore keeps definitions in Redis. Records live as JSON in one hash
// and a sorted set scored by a sequence counter keeps insertion order.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    observability.Logger
	now       func() time.Time
	retryCfg  *retry.Config
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisKeyPrefix sets the key prefix.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.keyPrefix = strings.TrimSuffix(prefix, ":")
		}
	}
}

// WithRedisStoreLogger sets the logger.
func WithRedisStoreLogger(logger observability.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// WithRedisRetry overrides the retry configuration.
func WithRedisRetry(cfg *retry.Config) RedisOption {
	return func(s *RedisStore) {
		s.retryCfg = cfg
	}
}

// NewRedisStore creates a RedisStore over client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: DefaultRedisKeyPrefix,
		logger:    observability.NopLogger(),
		now:       time.Now,
		retryCfg:  redisRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromConfig connects to the server described by cfg.
func NewRedisStoreFromConfig(cfg *config.RedisConfig, logger observability.Logger) (*RedisStore, error) {
	client := NewRedisClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("using redis route store",
		observability.String("address", cfg.Address),
		observability.Int("db", cfg.DB),
	)

	return NewRedisStore(client,
		WithRedisKeyPrefix(cfg.KeyPrefix),
		WithRedisStoreLogger(logger),
	), nil
}

// NewRedisClient builds a go-redis client from cfg.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}
	return redis.NewClient(opts)
}

func (s *RedisStore) defsKey() string  { return s.keyPrefix + ":defs" }
func (s *RedisStore) orderKey() string { return s.keyPrefix + ":order" }
func (s *RedisStore) seqKey() string   { return s.keyPrefix + ":seq" }

// FindAll returns every definition in insertion order.
func (s *RedisStore) FindAll(ctx context.Context) ([]*route.Definition, error) {
	ctx, span, done := s.begin(ctx, "FindAll")
	defer span.End()

	var out []*route.Definition
	err := s.do(ctx, "FindAll", func() error {
		ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			out = nil
			return nil
		}
		vals, err := s.client.HMGet(ctx, s.defsKey(), ids...).Result()
		if err != nil {
			return err
		}
		defs := make([]*route.Definition, 0, len(vals))
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				// Deleted between the two reads.
				continue
			}
			def, err := decodeDefinition(raw)
			if err != nil {
				return fmt.Errorf("route definition %q: %w", ids[i], err)
			}
			defs = append(defs, def)
		}
		out = defs
		return nil
	})
	done(span, err)
	span.SetAttributes(attribute.Int("store.routes", len(out)))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*route.Definition{}
	}
	return out, nil
}

// FindByID returns the definition with id.
func (s *RedisStore) FindByID(ctx context.Context, id string) (*route.Definition, error) {
	ctx, span, done := s.begin(ctx, "FindByID", attribute.String("store.id", id))
	defer span.End()

	var out *route.Definition
	err := s.do(ctx, "FindByID", func() error {
		def, err := s.get(ctx, s.client, id)
		if err != nil {
			return err
		}
		out = def
		return nil
	})
	done(span, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save stores def.
func (s *RedisStore) Save(ctx context.Context, def *route.Definition) (*route.Definition, error) {
	if def == nil {
		return nil, invalidDefinition()
	}
	ctx, span, done := s.begin(ctx, "Save", attribute.String("store.id", def.ID))
	defer span.End()

	var stored *route.Definition
	err := s.do(ctx, "Save", func() error {
		// A concurrent write to either key aborts EXEC with TxFailedErr,
		// which do retries against the fresh state.
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			var existing *route.Definition
			if def.ID != "" {
				found, err := s.get(ctx, tx, def.ID)
				if err != nil && !errors.Is(err, util.ErrNotFound) {
					return err
				}
				existing = found
			}

			rec := prepare(def, existing, s.now())
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}

			seq, err := tx.Incr(ctx, s.seqKey()).Result()
			if err != nil {
				return err
			}

			// ZAddNX keeps the original position of an existing record.
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, s.defsKey(), rec.ID, data)
				pipe.ZAddNX(ctx, s.orderKey(), redis.Z{Score: float64(seq), Member: rec.ID})
				return nil
			})
			if err != nil {
				return err
			}

			stored = rec
			return nil
		}, s.defsKey(), s.orderKey())
	})
	done(span, err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("route definition saved",
		observability.String("id", stored.ID),
		observability.String("route_id", stored.Key()),
	)
	return stored.Clone(), nil
}

// Delete removes the definition with id.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, span, done := s.begin(ctx, "Delete", attribute.String("store.id", id))
	defer span.End()

	err := s.do(ctx, "Delete", func() error {
		var hdel *redis.IntCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			hdel = pipe.HDel(ctx, s.defsKey(), id)
			pipe.ZRem(ctx, s.orderKey(), id)
			return nil
		})
		if err != nil {
			return err
		}
		if hdel.Val() == 0 {
			return notFound(id)
		}
		return nil
	})
	done(span, err)
	return err
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c hashGetter, id string) (*route.Definition, error) {
	raw, err := c.HGet(ctx, s.defsKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeDefinition(raw)
}

func (s *RedisStore) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(ctx, s.retryCfg, fn, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			getStoreMetrics().retriesTotal.WithLabelValues(backendRedis, op).Inc()
			s.logger.Debug("retrying redis store operation",
				observability.String("operation", op),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
}

// begin starts the span of op and returns a func that records its outcome.
func (s *RedisStore) begin(
	ctx context.Context,
	op string,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span, func(trace.Span, error)) {
	attrs = append(attrs, attribute.String("store.backend", backendRedis))
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	start := time.Now()
	return ctx, span, func(span trace.Span, err error) {
		m := getStoreMetrics()
		m.operationDuration.WithLabelValues(backendRedis, op).Observe(time.Since(start).Seconds())
		m.operationsTotal.WithLabelValues(backendRedis, op, resultLabel(err)).Inc()
		if err != nil && !errors.Is(err, util.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
}

func decodeDefinition(raw string) (*route.Definition, error) {
	var def route.Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, err
	}
	return &def, nil
}
