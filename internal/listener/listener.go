package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Refresher reloads whatever the notification channel guards.
type Refresher interface {
	Refresh(ctx context.Context) error
}

const debounce = 200 * time.Millisecond

// ListenAndRefresh LISTENs on channel and calls r.Refresh for every change
// notification until ctx is cancelled.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string, baseBackoff time.Duration) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Msg("acquire conn for listen")
		return
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("listen")
		return
	}
	log.Info().Str("channel", channel).Msg("listening for rule changes")

	var lastRefresh time.Time
	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("listener stopped")
				return
			}
			backoff := jitter(baseBackoff)
			log.Error().Err(err).Dur("retry_in", backoff).Msg("notify wait error")
			if !sleep(ctx, backoff) {
				log.Info().Msg("listener stopped")
				return
			}
			continue
		}
		if time.Since(lastRefresh) < debounce {
			continue
		}
		lastRefresh = time.Now()
		log.Info().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Msg("rules changed; refreshing")
		if err := r.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("refresh rules error")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
