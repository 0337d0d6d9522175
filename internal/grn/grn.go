// Package grn issues goods return numbers of the form GRN-YY-####.
//
// Numbers are drawn from one shared counter that is never reset, so values
// stay distinct across years even though the year prefix changes.
package grn

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidNumber is returned by Parse for malformed values.
var ErrInvalidNumber = errors.New("grn: invalid goods return number")

// Counter is an atomic increment-and-read primitive.
type Counter interface {
	Next(ctx context.Context) (int64, error)
}

// Sequence is a Counter whose position can be read and moved forward.
type Sequence interface {
	Counter
	// Current is the last value handed out, or zero.
	Current(ctx context.Context) (int64, error)
	// Advance makes the next value greater than n. It never moves back.
	Advance(ctx context.Context, n int64) error
}

// Align moves active past every value other has issued. Run it at startup
// so switching backends cannot hand out a number twice.
func Align(ctx context.Context, active, other Sequence) error {
	last, err := other.Current(ctx)
	if err != nil {
		return fmt.Errorf("grn: read inactive counter: %w", err)
	}
	if last <= 0 {
		return nil
	}
	if err := active.Advance(ctx, last); err != nil {
		return fmt.Errorf("grn: advance counter to %d: %w", last, err)
	}
	return nil
}

// Generator formats counter values as goods return numbers.
type Generator struct {
	counter Counter
	now     func() time.Time
}

// NewGenerator builds a Generator over counter.
func NewGenerator(counter Counter) *Generator {
	return &Generator{counter: counter, now: time.Now}
}

// Next allocates a fresh number. It takes no lock beyond the counter's own.
func (g *Generator) Next(ctx context.Context) (string, error) {
	seq, err := g.counter.Next(ctx)
	if err != nil {
		return "", fmt.Errorf("grn: allocate: %w", err)
	}
	return Format(g.now(), seq), nil
}

// Format renders seq with the two-digit year of at.
func Format(at time.Time, seq int64) string {
	return fmt.Sprintf("GRN-%02d-%04d", at.Year()%100, seq)
}

var pattern = regexp.MustCompile(`^GRN-(\d{2})-(\d{4,})$`)

// Parse splits a number into its two-digit year and sequence.
func Parse(value string) (year int, seq int64, err error) {
	m := pattern.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNumber, value)
	}
	year, _ = strconv.Atoi(m[1])
	seq, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil || seq <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNumber, value)
	}
	return year, seq, nil
}

// PostgresCounter draws values from a database sequence. nextval is not
// transactional, so it is taken on the pool and never waits on row locks.
type PostgresCounter struct {
	pool     *pgxpool.Pool
	sequence string
}

// DefaultSequence is the sequence created by the schema migration.
const DefaultSequence = "goods_return_number_seq"

// NewPostgresCounter builds a counter over the default sequence.
func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool, sequence: DefaultSequence}
}

// Next implements Counter.
func (c *PostgresCounter) Next(ctx context.Context) (int64, error) {
	var v int64
	if err := c.pool.QueryRow(ctx, `SELECT nextval($1::regclass)`, c.sequence).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// Current implements Sequence.
func (c *PostgresCounter) Current(ctx context.Context) (int64, error) {
	var v int64
	err := c.pool.QueryRow(ctx, `SELECT CASE WHEN is_called THEN last_value ELSE last_value - 1 END FROM `+
		pgx.Identifier{c.sequence}.Sanitize()).Scan(&v)
	return v, err
}

// Advance implements Sequence.
func (c *PostgresCounter) Advance(ctx context.Context, n int64) error {
	_, err := c.pool.Exec(ctx, `SELECT setval($1::regclass, GREATEST($2::bigint, last_value)) FROM `+
		pgx.Identifier{c.sequence}.Sanitize(), c.sequence, n)
	return err
}

// RedisKey holds the shared counter in Redis.
const RedisKey = "grn:sequence"

// RedisCounter draws values from an INCR on a single key.
type RedisCounter struct {
	client redis.Cmdable
	key    string
}

// NewRedisCounter builds a counter on RedisKey.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client, key: RedisKey}
}

// Next implements Counter.
func (c *RedisCounter) Next(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, c.key).Result()
}

// advanceScript raises the key to ARGV[1] unless it is already higher.
var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if cur < want then
  redis.call('SET', KEYS[1], want)
  return want
end
return cur
`)

// Current implements Sequence.
func (c *RedisCounter) Current(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Advance implements Sequence.
func (c *RedisCounter) Advance(ctx context.Context, n int64) error {
	return advanceScript.Run(ctx, c.client, []string{c.key}, n).Err()
}
