package docstore

import (
	"math"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old := time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		v    any
		secs int64
		want bool
	}{
		{bson.NewDateTimeFromTime(now.Add(-time.Minute)), 60, true},
		{bson.NewDateTimeFromTime(now.Add(-59 * time.Second)), 60, false},
		{now, 0, true},
		{bson.A{now, now.Add(-time.Hour)}, 60, true},
		{bson.A{"x", int32(1)}, 0, false},
		{"2000-01-01", 0, false},
		{nil, 0, false},

		// expiries that don't fit in a time.Duration
		{now, 10_000_000_000, false},
		{now, math.MaxInt64, false},
		{old, 10_000_000_000, true},
		{now, -10_000_000_000, true},
		{now.Add(time.Hour), math.MinInt64, true},
	}
	for _, tt := range tests {
		if got := isExpired(tt.v, tt.secs, now); got != tt.want {
			t.Errorf("** isExpired(%v, %d) = %v, wanted %v", tt.v, tt.secs, got, tt.want)
		}
	}
}
