package grn

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newRedisGenerator(t *testing.T) (*Generator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	gen := NewGenerator(NewRedisCounter(client))
	gen.now = func() time.Time { return time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC) }
	return gen, mr
}

func TestFormat(t *testing.T) {
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "GRN-25-0001", Format(at, 1))
	require.Equal(t, "GRN-25-0420", Format(at, 420))
	require.Equal(t, "GRN-25-12345", Format(at, 12345))
	require.Equal(t, "GRN-09-0007", Format(time.Date(2009, 6, 1, 0, 0, 0, 0, time.UTC), 7))
}

func TestParse(t *testing.T) {
	year, seq, err := Parse("GRN-25-0042")
	require.NoError(t, err)
	require.Equal(t, 25, year)
	require.Equal(t, int64(42), seq)

	_, seq, err = Parse("GRN-25-123456")
	require.NoError(t, err)
	require.Equal(t, int64(123456), seq)

	for _, bad := range []string{"", "GRN-2025-0001", "GRN-25-01", "grn-25-0001", "GRN-25-0000", "GRN-25-0001x"} {
		_, _, err := Parse(bad)
		require.ErrorIs(t, err, ErrInvalidNumber, bad)
	}
}

func TestGeneratorSequential(t *testing.T) {
	gen, mr := newRedisGenerator(t)
	ctx := context.Background()

	first, err := gen.Next(ctx)
	require.NoError(t, err)
	second, err := gen.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "GRN-25-0001", first)
	require.Equal(t, "GRN-25-0002", second)

	stored, err := mr.Get(RedisKey)
	require.NoError(t, err)
	require.Equal(t, "2", stored)
}

func TestGeneratorCounterSurvivesYearChange(t *testing.T) {
	gen, _ := newRedisGenerator(t)
	ctx := context.Background()

	_, err := gen.Next(ctx)
	require.NoError(t, err)
	gen.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	next, err := gen.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "GRN-26-0002", next)
}

func TestGeneratorConcurrentCallersGetDistinctNumbers(t *testing.T) {
	gen, _ := newRedisGenerator(t)
	const callers = 64

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, callers)
		seqs []int64
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			number, err := gen.Next(ctx)
			if err != nil {
				return err
			}
			_, seq, err := Parse(number)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[number]; dup {
				return errors.New("duplicate " + number)
			}
			seen[number] = struct{}{}
			seqs = append(seqs, seq)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, seen, callers)

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		require.Equal(t, int64(i+1), seq)
	}
}

func TestGeneratorCounterFailure(t *testing.T) {
	gen, mr := newRedisGenerator(t)
	mr.SetError("connection lost")

	_, err := gen.Next(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "grn: allocate")
}

type fixedSequence struct {
	last int64
}

func (s *fixedSequence) Next(context.Context) (int64, error) {
	s.last++
	return s.last, nil
}

func (s *fixedSequence) Current(context.Context) (int64, error) { return s.last, nil }

func (s *fixedSequence) Advance(_ context.Context, n int64) error {
	if n > s.last {
		s.last = n
	}
	return nil
}

func TestAlignRaisesRedisPastOtherBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	counter := NewRedisCounter(client)
	ctx := context.Background()

	current, err := counter.Current(ctx)
	require.NoError(t, err)
	require.Zero(t, current)

	require.NoError(t, Align(ctx, counter, &fixedSequence{last: 41}))
	next, err := counter.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), next)

	// A backend that is already ahead is never moved back.
	require.NoError(t, Align(ctx, counter, &fixedSequence{last: 7}))
	next, err = counter.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(43), next)
}

func TestAlignBothDirections(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisCounter := NewRedisCounter(client)
	other := &fixedSequence{}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := redisCounter.Next(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, Align(ctx, other, redisCounter))
	next, err := other.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(6), next)

	require.NoError(t, Align(ctx, redisCounter, other))
	next, err = redisCounter.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), next)
}

func TestAlignReportsReadFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.SetError("connection lost")

	err := Align(context.Background(), &fixedSequence{}, NewRedisCounter(client))
	require.ErrorContains(t, err, "inactive counter")
}
