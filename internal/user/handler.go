package user

import (
	"errors"
	"net/http"

	"github.com/filegate/service/internal/middleware"
	"github.com/filegate/service/internal/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetMe godoc
//
//	@Summary		Get the authenticated user's profile
//	@Tags			users
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=User}
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Router			/users/me [get]
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, _ := r.Context().Value(middleware.PrincipalIDKey).(string)
	if id == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	u, err := h.svc.GetByID(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(w, ErrNotFound.Error())
		return
	}
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, "user retrieved successfully", u)
}
