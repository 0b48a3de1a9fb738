package domain

import (
	"fmt"
	"math"
	"time"
)

const day = 24 * time.Hour

// MaxRetentionDays is the longest retention whose threshold fits in a
// time.Duration.
const MaxRetentionDays = math.MaxInt64 / int64(day)

// RetentionPolicy expires local artifacts older than a number of days.
type RetentionPolicy struct {
	Days int
}

func NewRetentionPolicy(days int) (RetentionPolicy, error) {
	if days <= 0 {
		return RetentionPolicy{}, fmt.Errorf("%w: retention days must be positive, got %d", ErrConfig, days)
	}
	if int64(days) > MaxRetentionDays {
		return RetentionPolicy{}, fmt.Errorf("%w: retention days must be at most %d, got %d", ErrConfig, MaxRetentionDays, days)
	}
	return RetentionPolicy{Days: days}, nil
}

// Threshold is Days x 86,400,000 ms.
func (p RetentionPolicy) Threshold() time.Duration {
	return time.Duration(p.Days) * day
}

// Expired reports whether an entry modified at modTime must be deleted.
// An entry exactly at the threshold is retained.
func (p RetentionPolicy) Expired(now, modTime time.Time) bool {
	return now.Sub(modTime) > p.Threshold()
}
