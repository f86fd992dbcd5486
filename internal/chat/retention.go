package chat

import (
	"context"
	"log"
	"time"
)

// NotificationRetention is how long read notifications are kept. Unread
// rows are retained indefinitely.
const NotificationRetention = 30 * 24 * time.Hour

// StartRetentionSweep purges read notifications past the retention window on
// the given interval until the context is cancelled.
func StartRetentionSweep(ctx context.Context, store *Store, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				n, err := store.PurgeReadNotificationsBefore(ctx, time.Now().Add(-NotificationRetention))
				if err != nil {
					log.Printf("chat: retention sweep: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("chat: retention sweep purged %d notifications", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
