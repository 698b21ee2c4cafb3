package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"classhub/internal/article"
	"classhub/internal/middleware"
	"classhub/internal/models"
	"classhub/internal/service"
	"classhub/internal/util"
)

// articleID writes a 404 and returns false when the path id is not a valid article id.
func articleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := article.ParseID(chi.URLParam(r, "id"))
	if !ok {
		util.WriteError(w, 404, "not_found", "not found", middleware.RequestID(r.Context()))
	}
	return id, ok
}

func (h *Handlers) ListArticles(w http.ResponseWriter, r *http.Request) {
	q := models.ArticleQuery{
		Search: r.URL.Query().Get("search"),
		Status: r.URL.Query().Get("status"),
	}
	q.Page, q.PageSize = parsePagination(r)
	page, err := h.svc.ListArticles(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, page)
}

func (h *Handlers) GetArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.GetArticle(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, a)
}

func (h *Handlers) ArticleMarkdown(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	content, err := h.svc.ArticleMarkdown(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"id": id, "content": content})
}

func (h *Handlers) ArticleRawMarkdown(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	content, err := h.svc.ArticleMarkdown(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"content": content})
}

func (h *Handlers) ArticleView(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	page, err := h.svc.ArticleHTML(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(200)
	_, _ = w.Write(page)
}

func (h *Handlers) CreateArticle(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req service.ArticleInput
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	a, err := h.svc.CreateArticle(r.Context(), actor, req, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, a)
}

func (h *Handlers) UpdateArticle(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	var req service.ArticleInput
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	a, err := h.svc.UpdateArticle(r.Context(), actor, id, req, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, a)
}

func (h *Handlers) UpdateArticleTitle(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	a, err := h.svc.UpdateArticleTitle(r.Context(), actor, id, req.Title, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"message": "title updated", "id": a.ID, "title": a.Title})
}

func (h *Handlers) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.DeleteArticle(r.Context(), actor, id, h.origin(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"message": "article deleted"})
}
