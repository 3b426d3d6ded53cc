package orders

import (
	"encoding/json"
	"fmt"
	"slices"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// validPairs lists, per fulfilment status, the payment statuses an order can
// actually be in.
var validPairs = map[Status][]PaymentStatus{
	StatusPending:    {PaymentPending, PaymentPaid, PaymentFailed, PaymentPartiallyRefunded},
	StatusConfirmed:  {PaymentPending, PaymentPaid, PaymentPartiallyRefunded},
	StatusProcessing: {PaymentPending, PaymentPaid, PaymentPartiallyRefunded},
	StatusShipped:    {PaymentPending, PaymentPaid, PaymentRefunded, PaymentPartiallyRefunded},
	StatusDelivered:  {PaymentPaid, PaymentRefunded, PaymentPartiallyRefunded},
	StatusCancelled:  {PaymentPending, PaymentFailed, PaymentPaid, PaymentRefunded, PaymentPartiallyRefunded},
}

// customerTransitions is what an order's owner may do without admin rights.
var customerTransitions = map[Status][]Status{
	StatusPending:   {StatusCancelled},
	StatusConfirmed: {StatusCancelled},
}

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := validPairs[st]
	return st, ok
}

func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch p := PaymentStatus(s); p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded, PaymentPartiallyRefunded:
		return p, true
	}
	return "", false
}

// IsTerminal reports whether no further fulfilment transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsShipped reports whether goods have left the warehouse.
func (s Status) IsShipped() bool {
	return s == StatusShipped || s == StatusDelivered
}

// CustomerMayTransition reports whether a non-admin owner may move an order
// from one status to another.
func CustomerMayTransition(from, to Status) bool {
	return slices.Contains(customerTransitions[from], to)
}

// InvalidStateError is returned when a status and payment status cannot
// coexist.
type InvalidStateError struct {
	Status  Status
	Payment PaymentStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order cannot be %s while payment is %s", e.Status, e.Payment)
}

// State is a validated (status, payment status) pair. The zero value is not a
// valid state; use NewState.
type State struct {
	status  Status
	payment PaymentStatus
}

func NewState(status Status, payment PaymentStatus) (State, error) {
	if !slices.Contains(validPairs[status], payment) {
		return State{}, &InvalidStateError{Status: status, Payment: payment}
	}
	return State{status: status, payment: payment}, nil
}

// InitialState is the state of every new order.
func InitialState() State {
	return State{status: StatusPending, payment: PaymentPending}
}

func (s State) Status() Status         { return s.status }
func (s State) Payment() PaymentStatus { return s.payment }
func (s State) IsZero() bool           { return s.status == "" }

func (s State) WithStatus(to Status) (State, error) {
	return NewState(to, s.payment)
}

func (s State) WithPayment(to PaymentStatus) (State, error) {
	return NewState(s.status, to)
}

func (s State) String() string {
	return fmt.Sprintf("%s/%s", s.status, s.payment)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  Status        `json:"status"`
		Payment PaymentStatus `json:"paymentStatus"`
	}{s.status, s.payment})
}
