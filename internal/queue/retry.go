package queue

import (
	"math"
	"time"
)

// maxDoublings bounds the shift so large attempt counts cannot overflow.
const maxDoublings = 30

// RetryPolicy computes the delay before a failed job is retried.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxBackoff time.Duration
}

// Backoff returns BaseDelay * 2^(attemptsMade-1), capped at MaxBackoff
// when it is positive. attemptsMade counts the attempt that just failed.
func (p RetryPolicy) Backoff(attemptsMade int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attemptsMade && i <= maxDoublings; i++ {
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// sqsDelaySeconds converts a backoff into an SQS DelaySeconds value,
// rounding up and clamping to the 900 second service limit.
func sqsDelaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > maxSQSDelay {
		return maxSQSDelay
	}
	return int32(secs)
}

const maxSQSDelay = 900
