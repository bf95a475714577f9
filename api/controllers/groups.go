package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/api/responses"
	"github.com/atelierhq/atelier-backend/api/validators"
	"github.com/atelierhq/atelier-backend/internal/groups"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
)

type groupCreateRequest struct {
	Name            string                `json:"name" validate:"required"`
	Description     *string               `json:"description"`
	Price           decimal.Decimal       `json:"price" validate:"required"`
	MaxParticipants int                   `json:"maxParticipants" validate:"gt=0"`
	Schedule        []models.ScheduleSlot `json:"schedule"`
}

type groupUpdateRequest struct {
	Name            *string               `json:"name"`
	Description     *string               `json:"description"`
	Price           *decimal.Decimal      `json:"price"`
	MaxParticipants *int                  `json:"maxParticipants"`
	IsActive        *bool                 `json:"isActive"`
	Schedule        []models.ScheduleSlot `json:"schedule"`
}

func GroupCreate(svc groups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "group service unavailable"))
			return
		}

		var body groupCreateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		group, err := svc.Create(r.Context(), groups.CreateInput{
			Name:            body.Name,
			Description:     body.Description,
			Price:           body.Price,
			MaxParticipants: body.MaxParticipants,
			Schedule:        body.Schedule,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, group)
	}
}

func GroupUpdate(svc groups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "group service unavailable"))
			return
		}

		id, err := validators.ParsePathUUID(chi.URLParam(r, "groupId"), "group id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body groupUpdateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		group, err := svc.Update(r.Context(), id, groups.UpdateInput{
			Name:            body.Name,
			Description:     body.Description,
			Price:           body.Price,
			MaxParticipants: body.MaxParticipants,
			IsActive:        body.IsActive,
			Schedule:        body.Schedule,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, group)
	}
}

func GroupDetail(svc groups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "group service unavailable"))
			return
		}

		id, err := validators.ParsePathUUID(chi.URLParam(r, "groupId"), "group id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		group, err := svc.GetByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, group)
	}
}

// GroupList serves the public catalog of active groups; admins can pass
// all=true to include deactivated ones.
func GroupList(svc groups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "group service unavailable"))
			return
		}

		var (
			list []models.RegularGroup
			err  error
		)
		if r.URL.Query().Get("all") == "true" {
			list, err = svc.List(r.Context())
		} else {
			list, err = svc.ListActive(r.Context())
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
