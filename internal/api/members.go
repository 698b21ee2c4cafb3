package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"classhub/internal/middleware"
	"classhub/internal/models"
	"classhub/internal/service"
	"classhub/internal/util"
)

func parsePagination(r *http.Request) (int, int) {
	page, pageSize := 1, 0
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 {
			pageSize = ps
		}
	}
	return page, pageSize
}

// parseDay returns nil for empty or malformed YYYY-MM-DD values.
func parseDay(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil
	}
	return &t
}

// parseUserQuery treats a non-integer level as absent. Any integer is matched
// exactly, so an out-of-range level yields an empty page.
func parseUserQuery(r *http.Request) models.UserQuery {
	q := r.URL.Query()
	out := models.UserQuery{
		Status:         models.ParseMemberStatus(q.Get("status")),
		Search:         q.Get("search"),
		LastLoginStart: parseDay(q.Get("last_login_start")),
		LastLoginEnd:   parseDay(q.Get("last_login_end")),
		CreatedStart:   parseDay(q.Get("created_start")),
		CreatedEnd:     parseDay(q.Get("created_end")),
		Sort:           models.ParseSortField(q.Get("sort_by")),
		Order:          models.ParseSortOrder(q.Get("order")),
	}
	if v := q.Get("level"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			l := models.Level(n)
			out.Level = &l
		}
	}
	out.Page, out.PageSize = parsePagination(r)
	return out
}

func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.ListMembers(r.Context(), parseUserQuery(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, page)
}

func (h *Handlers) GetMember(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, u)
}

func (h *Handlers) CreateMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req service.CreateMemberInput
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	u, err := h.svc.CreateMember(r.Context(), actor, req, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, u)
}

func (h *Handlers) EditMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req service.EditMemberInput
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	u, err := h.svc.EditMember(r.Context(), actor, chi.URLParam(r, "id"), req, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, u)
}

func (h *Handlers) ToggleBan(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	u, err := h.svc.ToggleBan(r.Context(), actor, chi.URLParam(r, "id"), h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	msg := "member unbanned"
	if u.IsBanned {
		msg = "member banned"
	}
	util.WriteJSON(w, 200, map[string]any{"unbanned": !u.IsBanned, "is_banned": u.IsBanned, "message": msg})
}

func (h *Handlers) DeleteMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	if _, err := h.svc.DeleteMember(r.Context(), actor, chi.URLParam(r, "id"), h.origin(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"message": "member deleted"})
}
