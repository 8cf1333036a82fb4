package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/api/middleware"
	"github.com/angelmondragon/dropline-backend/api/responses"
	"github.com/angelmondragon/dropline-backend/api/validators"
	"github.com/angelmondragon/dropline-backend/internal/mediajobs"
	"github.com/angelmondragon/dropline-backend/internal/uploads"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
)

type mediaFinalizeRequest struct {
	Key       string `json:"key" validate:"required,objectkey"`
	MediaKind string `json:"mediaKind" validate:"required,mediakind"`
	FileSize  int64  `json:"fileSize" validate:"min=0"`
}

func (r mediaFinalizeRequest) toInput() (uploads.FinalizeInput, error) {
	kind, err := enums.ParseMediaKind(strings.TrimSpace(r.MediaKind))
	if err != nil {
		return uploads.FinalizeInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid mediaKind")
	}
	return uploads.FinalizeInput{
		Key:       r.Key,
		Kind:      kind,
		SizeBytes: r.FileSize,
	}, nil
}

// MediaFinalize records an upload that already landed in the object store.
// Images come back with their public URL; video and audio with a job id.
func MediaFinalize(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}

		uid, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, err := enums.ParseUserTier(middleware.TierFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid tier claim"))
			return
		}

		var payload mediaFinalizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Finalize(r.Context(), uid, tier, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.JobID != nil {
			responses.WriteSuccessStatus(w, http.StatusAccepted, result)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// JobStatusReader serves the job status endpoint.
type JobStatusReader interface {
	Status(ctx context.Context, id, ownerID uuid.UUID, withQueue bool) (*mediajobs.StatusView, error)
}

// MediaJobStatus returns a job owned by the caller. ?queue=true adds the queue's view.
func MediaJobStatus(svc JobStatusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media job service unavailable"))
			return
		}

		uid, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := uuid.Parse(chi.URLParam(r, "jobId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}
		withQueue, err := validators.ParseQueryBool(r, "queue", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithMediaJobID(ctx, jobID.String())
		}
		view, err := svc.Status(ctx, jobID, uid, withQueue)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return uid, nil
}
