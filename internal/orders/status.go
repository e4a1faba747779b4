package orders

import "errors"

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInDelivery Status = "in_delivery"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var ErrInvalidTransition = errors.New("orders: invalid status transition")

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusAccepted: true, StatusInDelivery: true, StatusCompleted: true, StatusCancelled: true},
	StatusAccepted:   {StatusInDelivery: true, StatusCompleted: true, StatusCancelled: true},
	StatusInDelivery: {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
