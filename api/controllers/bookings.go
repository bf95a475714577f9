package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier-backend/api/middleware"
	"github.com/atelierhq/atelier-backend/api/responses"
	"github.com/atelierhq/atelier-backend/api/validators"
	"github.com/atelierhq/atelier-backend/internal/bookings"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/metrics"
	"github.com/atelierhq/atelier-backend/pkg/pagination"
)

type bookingRequest struct {
	EventID           *uuid.UUID           `json:"eventId"`
	GroupSessionID    *uuid.UUID           `json:"groupSessionId"`
	SubscriptionID    *uuid.UUID           `json:"subscriptionId"`
	PaymentMethod     string               `json:"paymentMethod" validate:"required"`
	ParticipantsCount int                  `json:"participantsCount"`
	Participants      []models.Participant `json:"participants"`
	ContactEmail      string               `json:"contactEmail" validate:"required,email"`
	ContactPhone      *string              `json:"contactPhone"`
	Notes             *string              `json:"notes"`
}

// BookingCreate places a booking. Anonymous requests are allowed; a
// subscription-paid booking requires an authenticated user, which the engine
// enforces.
func BookingCreate(svc bookings.Service, m *metrics.BookingMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "booking service unavailable"))
			return
		}

		var body bookingRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := bookings.CreateInput{
			EventID:           body.EventID,
			GroupSessionID:    body.GroupSessionID,
			SubscriptionID:    body.SubscriptionID,
			PaymentMethod:     enums.PaymentMethod(body.PaymentMethod),
			ParticipantsCount: body.ParticipantsCount,
			Participants:      body.Participants,
			ContactEmail:      body.ContactEmail,
			ContactPhone:      body.ContactPhone,
			Notes:             body.Notes,
		}
		if userID := middleware.UserIDFromContext(r.Context()); userID != uuid.Nil {
			input.UserID = &userID
		}

		booking, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		m.IncCreated()
		responses.WriteSuccessStatus(w, http.StatusCreated, booking)
	}
}

// BookingCancel cancels a booking. Admins bypass the cancellation window.
func BookingCancel(svc bookings.Service, m *metrics.BookingMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "booking service unavailable"))
			return
		}

		id, err := validators.ParsePathUUID(chi.URLParam(r, "bookingId"), "booking id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		isAdmin := strings.EqualFold(middleware.RoleFromContext(r.Context()), string(enums.UserRoleAdmin))
		booking, err := svc.Cancel(r.Context(), id, !isAdmin)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		m.IncCancelled()
		responses.WriteSuccess(w, booking)
	}
}

type bookingStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func BookingUpdateStatus(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "booking service unavailable"))
			return
		}

		id, err := validators.ParsePathUUID(chi.URLParam(r, "bookingId"), "booking id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body bookingStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		booking, err := svc.UpdateStatus(r.Context(), id, enums.BookingStatus(body.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, booking)
	}
}

func BookingDetail(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "booking service unavailable"))
			return
		}

		id, err := validators.ParsePathUUID(chi.URLParam(r, "bookingId"), "booking id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		booking, err := svc.GetByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, booking)
	}
}

// BookingList is the admin-facing paginated list with optional status and
// eventOnly filters.
func BookingList(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "booking service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		filters := bookings.ListFilters{
			EventOnly: r.URL.Query().Get("eventOnly") == "true",
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status := enums.BookingStatus(raw)
			filters.Status = &status
		}

		list, next, err := svc.List(r.Context(), params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": list, "nextCursor": next})
	}
}

func BookingUpcoming(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "booking service unavailable"))
			return
		}

		list, err := svc.GetUpcomingForUser(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// BookingsByEvent returns the roster of live bookings for one event.
func BookingsByEvent(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "booking service unavailable"))
			return
		}

		eventID, err := validators.ParsePathUUID(chi.URLParam(r, "eventId"), "event id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.GetByEvent(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
