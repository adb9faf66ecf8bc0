package broker

import (
	"context"
	"time"
)

// Sweep policy. Expired QR rows linger one hour past expiry so a late
// verify still sees TokenExpired rather than UnknownToken; login
// history is retained 90 days.
const (
	sweepInterval     = 5 * time.Minute
	maxSweepInterval  = 30 * time.Minute
	qrRetention       = time.Hour
	loginRetention    = 90 * 24 * time.Hour
)

// RunSweeper deletes dead QR sessions and aged login history until ctx
// is cancelled. On failure the interval backs off and resets after the
// next success.
func (b *Broker) RunSweeper(ctx context.Context) {
	interval := sweepInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := b.sweep(ctx); err != nil {
				b.log.Warn("sweep failed", "error", err)
				interval *= 2
				if interval > maxSweepInterval {
					interval = maxSweepInterval
				}
			} else {
				interval = sweepInterval
			}
			timer.Reset(interval)
		}
	}
}

func (b *Broker) sweep(ctx context.Context) error {
	now := b.deps.Clock.Now()

	qrDeleted, err := b.deps.QRStore.DeleteExpiredBefore(ctx, now.Add(-qrRetention))
	if err != nil {
		return err
	}

	loginsDeleted, err := b.deps.Logins.DeleteOlderThan(ctx, now.Add(-loginRetention))
	if err != nil {
		return err
	}

	if qrDeleted > 0 || loginsDeleted > 0 {
		b.log.Info("sweep completed", "qr_sessions", qrDeleted, "login_records", loginsDeleted)
	}
	return nil
}
