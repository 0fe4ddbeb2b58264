package outbox

// Event is the domain event envelope written to the outbox table. The Kafka
// topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types published by the booking service.
const (
	EventBookingConfirmed = "booking.confirmed.v1"
	EventBookingCancelled = "booking.cancelled.v1"
)
