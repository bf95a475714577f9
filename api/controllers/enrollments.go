package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier-backend/api/middleware"
	"github.com/atelierhq/atelier-backend/api/responses"
	"github.com/atelierhq/atelier-backend/api/validators"
	"github.com/atelierhq/atelier-backend/internal/enrollments"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
)

type enrollRequest struct {
	GroupID      uuid.UUID            `json:"groupId" validate:"required"`
	Participants []models.Participant `json:"participants"`
	ContactEmail string               `json:"contactEmail" validate:"required,email"`
	Notes        *string              `json:"notes"`
}

// EnrollmentCreate joins the authenticated user to a recurring group and
// fans out bookings for the scheduled sessions.
func EnrollmentCreate(svc enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service unavailable"))
			return
		}

		var body enrollRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		enrollment, err := svc.Enroll(r.Context(), enrollments.EnrollInput{
			UserID:       middleware.UserIDFromContext(r.Context()),
			GroupID:      body.GroupID,
			Participants: body.Participants,
			ContactEmail: body.ContactEmail,
			Notes:        body.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, enrollment)
	}
}

func enrollmentAction(
	svc enrollments.Service,
	logg *logger.Logger,
	action func(svc enrollments.Service, r *http.Request, id, userID uuid.UUID) (any, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service unavailable"))
			return
		}

		id, err := validators.ParsePathUUID(chi.URLParam(r, "enrollmentId"), "enrollment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := action(svc, r, id, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func EnrollmentCancel(svc enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return enrollmentAction(svc, logg, func(svc enrollments.Service, r *http.Request, id, userID uuid.UUID) (any, error) {
		return svc.Cancel(r.Context(), id, userID)
	})
}

func EnrollmentPause(svc enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return enrollmentAction(svc, logg, func(svc enrollments.Service, r *http.Request, id, userID uuid.UUID) (any, error) {
		return svc.Pause(r.Context(), id, userID)
	})
}

func EnrollmentResume(svc enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return enrollmentAction(svc, logg, func(svc enrollments.Service, r *http.Request, id, userID uuid.UUID) (any, error) {
		return svc.Resume(r.Context(), id, userID)
	})
}

func EnrollmentUpcomingSessions(svc enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return enrollmentAction(svc, logg, func(svc enrollments.Service, r *http.Request, id, userID uuid.UUID) (any, error) {
		return svc.GetUpcomingSessions(r.Context(), id, userID)
	})
}

func EnrollmentList(svc enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service unavailable"))
			return
		}

		list, err := svc.ListByUser(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
