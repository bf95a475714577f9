package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics counts booking lifecycle outcomes.
type BookingMetrics struct {
	created   prometheus.Counter
	cancelled prometheus.Counter
}

// NewBookingMetrics registers the booking counters on the provided registerer.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	if reg == nil {
		return &BookingMetrics{}
	}
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Bookings successfully created.",
	})
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Bookings cancelled by users or admins.",
	})
	reg.MustRegister(created, cancelled)
	return &BookingMetrics{created: created, cancelled: cancelled}
}

// IncCreated records one created booking.
func (b *BookingMetrics) IncCreated() {
	if b == nil || b.created == nil {
		return
	}
	b.created.Inc()
}

// IncCancelled records one cancelled booking.
func (b *BookingMetrics) IncCancelled() {
	if b == nil || b.cancelled == nil {
		return
	}
	b.cancelled.Inc()
}
