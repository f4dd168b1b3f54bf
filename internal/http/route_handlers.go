package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httperrors "github.com/raisehead/contactsync/internal/http/errors"
	"github.com/raisehead/contactsync/internal/store"
)

type routeDTO struct {
	ID          uuid.UUID  `json:"id"`
	TagID       *uuid.UUID `json:"tagId"`
	ContainerID string     `json:"containerId"`
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func routeToDTO(rt store.TagRoute) routeDTO {
	return routeDTO{
		ID:          rt.ID,
		TagID:       rt.TagID,
		ContainerID: rt.ContainerID,
		Name:        rt.Name,
		Enabled:     rt.Enabled,
		CreatedAt:   rt.CreatedAt,
		UpdatedAt:   rt.UpdatedAt,
	}
}

type routeRequest struct {
	TagID       *uuid.UUID `json:"tagId"`
	ContainerID string     `json:"containerId"`
	Name        string     `json:"name"`
	Enabled     *bool      `json:"enabled"`
}

func (h *handlers) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.svc.Store.Routes.List(r.Context(), false)
	if err != nil {
		httperrors.LogError(r, "failed to list routes", err)
		respondErr(w, http.StatusInternalServerError, "failed to list routes")
		return
	}
	dtos := make([]routeDTO, 0, len(routes))
	for _, rt := range routes {
		dtos = append(dtos, routeToDTO(rt))
	}
	respondJSON(w, http.StatusOK, dtos, "")
}

// createRoute maps a tag (or all contacts, for a nil tag) to one container.
func (h *handlers) createRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ContainerID) == "" || strings.TrimSpace(req.Name) == "" {
		respondErr(w, http.StatusBadRequest, "containerId and name are required")
		return
	}

	if req.TagID != nil {
		if _, err := h.svc.Store.Tags.GetByID(r.Context(), *req.TagID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondErr(w, http.StatusBadRequest, "tag does not exist")
				return
			}
			httperrors.LogError(r, "failed to look up tag", err)
			respondErr(w, http.StatusInternalServerError, "failed to create route")
			return
		}
	}

	route := &store.TagRoute{
		TagID:       req.TagID,
		ContainerID: req.ContainerID,
		Name:        req.Name,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	err := h.svc.Store.Routes.Create(r.Context(), route)
	if errors.Is(err, store.ErrDuplicate) {
		respondErr(w, http.StatusConflict, "tag or container is already routed")
		return
	}
	if err != nil {
		httperrors.LogError(r, "failed to create route", err)
		respondErr(w, http.StatusInternalServerError, "failed to create route")
		return
	}
	respondJSON(w, http.StatusCreated, routeToDTO(*route), "Route created")
}

func (h *handlers) updateRoute(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "routeID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid route id")
		return
	}
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	route, err := h.svc.Store.Routes.GetByID(r.Context(), routeID)
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "route not found")
		return
	}
	if err != nil {
		httperrors.LogError(r, "failed to load route", err)
		respondErr(w, http.StatusInternalServerError, "failed to update route")
		return
	}

	// A toggle-only request skips the full update and its uniqueness checks.
	if req.Enabled != nil && req.ContainerID == "" && req.Name == "" && req.TagID == nil {
		if err := h.svc.Store.Routes.SetEnabled(r.Context(), routeID, *req.Enabled); err != nil {
			httperrors.LogError(r, "failed to toggle route", err)
			respondErr(w, http.StatusInternalServerError, "failed to update route")
			return
		}
		route.Enabled = *req.Enabled
		respondJSON(w, http.StatusOK, routeToDTO(*route), "Route updated")
		return
	}

	if req.ContainerID != "" {
		route.ContainerID = req.ContainerID
	}
	if req.Name != "" {
		route.Name = req.Name
	}
	if req.TagID != nil {
		if _, err := h.svc.Store.Tags.GetByID(r.Context(), *req.TagID); err != nil {
			respondErr(w, http.StatusBadRequest, "tag does not exist")
			return
		}
		route.TagID = req.TagID
	}
	if req.Enabled != nil {
		route.Enabled = *req.Enabled
	}

	err = h.svc.Store.Routes.Update(r.Context(), route)
	if errors.Is(err, store.ErrDuplicate) {
		respondErr(w, http.StatusConflict, "tag or container is already routed")
		return
	}
	if err != nil {
		httperrors.LogError(r, "failed to update route", err)
		respondErr(w, http.StatusInternalServerError, "failed to update route")
		return
	}
	respondJSON(w, http.StatusOK, routeToDTO(*route), "Route updated")
}

// deleteRoute removes the route and every link scoped to its container.
// The external records themselves are left in place.
func (h *handlers) deleteRoute(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "routeID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid route id")
		return
	}

	route, err := h.svc.Store.Routes.GetByID(r.Context(), routeID)
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "route not found")
		return
	}
	if err != nil {
		httperrors.LogError(r, "failed to load route", err)
		respondErr(w, http.StatusInternalServerError, "failed to delete route")
		return
	}

	removed, err := h.svc.Store.Links.DeleteByContainer(r.Context(), store.ProviderC, route.ContainerID)
	if err != nil {
		httperrors.LogError(r, "failed to remove container links", err)
		respondErr(w, http.StatusInternalServerError, "failed to delete route")
		return
	}
	if err := h.svc.Store.Routes.Delete(r.Context(), routeID); err != nil {
		httperrors.LogError(r, "failed to delete route", err)
		respondErr(w, http.StatusInternalServerError, "failed to delete route")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"linksRemoved": removed}, "Route deleted")
}
