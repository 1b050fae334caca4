package job

import (
	"fmt"

	"github.com/xraph/delayed"
)

// Queue selects which handler processes a job. The set of queues is closed
// and known at build time; stores persist the identifier verbatim.
type Queue string

const (
	QueueEmailConfirm     Queue = "EMAIL_CONFIRM"
	QueueEmailShipped     Queue = "EMAIL_SHIPPED"
	QueueEmailCancelled   Queue = "EMAIL_CANCELLED"
	QueuePaymentReconcile Queue = "PAYMENT_RECONCILE"
)

var queues = []Queue{
	QueueEmailConfirm,
	QueueEmailShipped,
	QueueEmailCancelled,
	QueuePaymentReconcile,
}

// Queues returns every known queue in declaration order.
func Queues() []Queue {
	out := make([]Queue, len(queues))
	copy(out, queues)
	return out
}

// Valid reports whether q is one of the known queues.
func (q Queue) Valid() bool {
	for _, known := range queues {
		if q == known {
			return true
		}
	}
	return false
}

func (q Queue) String() string { return string(q) }

// ParseQueue parses a queue identifier.
func ParseQueue(s string) (Queue, error) {
	q := Queue(s)
	if !q.Valid() {
		return "", fmt.Errorf("%w: %q", delayed.ErrInvalidQueue, s)
	}
	return q, nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown
// queues.
func (q *Queue) UnmarshalText(data []byte) error {
	parsed, err := ParseQueue(string(data))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (q Queue) MarshalText() ([]byte, error) {
	return []byte(q), nil
}
