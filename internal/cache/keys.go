package cache

import (
	"fmt"
	"time"
)

func JobSnapshotKey(ownerID, jobID string) string {
	return fmt.Sprintf("job:snapshot:%s:%s", ownerID, jobID)
}

// RateLimitKey buckets requests of subject into fixed one-minute windows.
func RateLimitKey(subject string, window time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", subject, window.UTC().Unix()/60)
}

func ReviewPDFKey(jobID string) string {
	return fmt.Sprintf("review:pdf:%s", jobID)
}
