// internal/queue/headers.go
package queue

import (
	"strconv"

	"github.com/streadway/amqp"
)

// RetryCount reads the x-retry-count header. Absent or unreadable values
// count as zero. Other clients may encode the number with any integer width
// or as a string.
func RetryCount(h amqp.Table) int {
	v, ok := h[HeaderRetryCount]
	if !ok {
		return 0
	}
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int8:
		n = int64(t)
	case int16:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case uint8:
		n = int64(t)
	case uint16:
		n = int64(t)
	case uint32:
		n = int64(t)
	case float32:
		n = int64(t)
	case float64:
		n = int64(t)
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// WithRetryCount returns a copy of h carrying the given retry count.
func WithRetryCount(h amqp.Table, count int) amqp.Table {
	out := make(amqp.Table, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[HeaderRetryCount] = int32(count)
	return out
}
