package checkout

import "time"

// OperationType names a backend mutation that can be retried.
type OperationType string

const (
	OpSetAddresses      OperationType = "setAddresses"
	OpSetShippingMethod OperationType = "setShippingMethod"
	OpSetPaymentMethod  OperationType = "setPaymentMethod"
)

// DefaultMaxRetries is the retry ceiling applied when an operation does not
// set one.
const DefaultMaxRetries = 3

// NoRetries as MaxRetries queues an operation that is never retried.
const NoRetries = -1

// PendingOperation is a failed mutation awaiting retry.
type PendingOperation struct {
	ID         string        `json:"id"`
	Type       OperationType `json:"type"`
	Payload    FormData      `json:"data"`
	CreatedAt  time.Time     `json:"timestamp"`
	RetryCount int           `json:"retryCount"`

	// MaxRetries of zero means DefaultMaxRetries; a negative value means
	// none.
	MaxRetries int `json:"maxRetries"`
}

// Exhausted reports whether the operation reached its retry ceiling.
func (op PendingOperation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}

func (op PendingOperation) clone() PendingOperation {
	op.Payload = op.Payload.Clone()
	return op
}

const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// Backoff returns min(1s * 2^retryCount, 30s).
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := retryBaseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}
