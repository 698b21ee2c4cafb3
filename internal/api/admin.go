package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"classhub/internal/middleware"
	"classhub/internal/util"
)

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Logs(r.Context(), queryLimit(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, items)
}

func (h *Handlers) RecentActivities(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.RecentActivities(r.Context(), queryLimit(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, items)
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, stats)
}

func (h *Handlers) WeeklyVisits(w http.ResponseWriter, r *http.Request) {
	week, err := h.svc.WeeklyVisits(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, week)
}

type settingsRequest struct {
	RegistrationStatus string `json:"registration_status"`
}

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	mode, err := h.svc.RegistrationMode(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"registration_status": string(mode)})
}

func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req settingsRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	mode, err := h.svc.SetRegistrationMode(r.Context(), actor, req.RegistrationStatus, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"registration_status": string(mode)})
}

func (h *Handlers) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	items, err := h.svc.ListRegistrations(r.Context(), actor, r.URL.Query().Get("status"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, items)
}

func registrationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		util.WriteError(w, 404, "not_found", "not found", middleware.RequestID(r.Context()))
		return 0, false
	}
	return id, true
}

func (h *Handlers) GetRegistration(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	id, ok := registrationID(w, r)
	if !ok {
		return
	}
	req, err := h.svc.GetRegistration(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, req)
}

func (h *Handlers) ReviewRegistration(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	id, ok := registrationID(w, r)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	reviewed, err := h.svc.ReviewRegistration(r.Context(), actor, id, req.Action, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{
		"message": "registration request " + string(reviewed.Status),
		"status":  string(reviewed.Status),
	})
}
