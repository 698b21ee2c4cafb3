package api

import (
	"net/http"

	"classhub/internal/middleware"
	"classhub/internal/service"
	"classhub/internal/util"
)

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	res, err := h.svc.Login(r.Context(), req.LoginID, req.Password, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, res)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	if err := h.svc.Logout(r.Context(), u, h.origin(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"message": "logged out"})
}

func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, map[string]any{
		"status": "success",
		"payload": map[string]any{
			"username":  u.Username,
			"level":     u.Level,
			"is_online": u.IsOnline,
		},
	})
}

func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, map[string]any{
		"id":           u.ID,
		"username":     u.Username,
		"display_name": u.DisplayName,
		"level":        u.Level,
		"last_login":   u.LastLogin,
		"is_online":    u.IsOnline,
	})
}

func (h *Handlers) UserProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	p, err := h.svc.Profile(r.Context(), u)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, p)
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	if h.cfg.CaptchaEnabled {
		ip := middleware.ClientIP(r, h.cfg.TrustProxy)
		if err := h.captchaVerifier.Verify(r.Context(), req.CaptchaToken, ip); err != nil {
			util.WriteError(w, 400, "captcha_required", "captcha validation failed", middleware.RequestID(r.Context()))
			return
		}
	}
	res, err := h.svc.Register(r.Context(), req, h.origin(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if res.User != nil {
		util.WriteJSON(w, 201, map[string]any{"message": "registration successful", "user": res.User})
		return
	}
	util.WriteJSON(w, 201, map[string]any{"message": "registration request submitted, awaiting review"})
}
