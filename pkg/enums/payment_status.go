package enums

// PaymentStatus carries the gateway-reported state of a card payment. The
// vocabulary mirrors the acquirer's notification statuses, so new values may
// appear over time; only the success and failure sets drive state transitions.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"

	PaymentStatusRejected        PaymentStatus = "REJECTED"
	PaymentStatusCancelled       PaymentStatus = "CANCELLED"
	PaymentStatusCanceled        PaymentStatus = "CANCELED"
	PaymentStatusDeadlineExpired PaymentStatus = "DEADLINE_EXPIRED"
	PaymentStatusReversing       PaymentStatus = "REVERSING"
	PaymentStatusReversed        PaymentStatus = "REVERSED"
	PaymentStatusRefunding       PaymentStatus = "REFUNDING"
	PaymentStatusRefunded        PaymentStatus = "REFUNDED"
	PaymentStatusPartialReversed PaymentStatus = "PARTIAL_REVERSED"
	PaymentStatusPartialRefunded PaymentStatus = "PARTIAL_REFUNDED"
)

var failurePaymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusRejected:        {},
	PaymentStatusCancelled:       {},
	PaymentStatusCanceled:        {},
	PaymentStatusDeadlineExpired: {},
	PaymentStatusReversing:       {},
	PaymentStatusReversed:        {},
	PaymentStatusRefunding:       {},
	PaymentStatusRefunded:        {},
	PaymentStatusPartialReversed: {},
	PaymentStatusPartialRefunded: {},
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsSuccess reports whether the status confirms a settled payment.
func (p PaymentStatus) IsSuccess() bool {
	return p == PaymentStatusConfirmed
}

// IsFailure reports whether the status terminally fails or reverses a payment.
func (p PaymentStatus) IsFailure() bool {
	_, ok := failurePaymentStatuses[p]
	return ok
}
