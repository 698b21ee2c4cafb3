package api

import (
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"classhub/internal/activity"
	"classhub/internal/captcha"
	"classhub/internal/config"
	"classhub/internal/middleware"
	"classhub/internal/rate"
	"classhub/internal/service"
	"classhub/internal/util"
	"classhub/internal/version"
)

type Handlers struct {
	cfg             config.Config
	svc             *service.Service
	limiter         rate.Limiter
	captchaVerifier captcha.Verifier
	log             *zap.Logger
}

func NewRouter(cfg config.Config, svc *service.Service, limiter rate.Limiter, log *zap.Logger) http.Handler {
	if limiter == nil {
		limiter = rate.NewMemoryLimiter()
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		cfg:             cfg,
		svc:             svc,
		limiter:         limiter,
		captchaVerifier: captcha.NewVerifier(cfg),
		log:             log,
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(log, cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, version.Current())
	})
	r.Get("/articles/*", h.ArticleFile)

	authn := middleware.Authn(svc, log)
	admin := middleware.RequireLevel(cfg.AdminMinLevel)
	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, log, "login", 20, time.Minute, cfg.TrustProxy)).Post("/login", h.Login)
		r.With(middleware.RateLimit(h.limiter, log, "register", 10, time.Minute, cfg.TrustProxy)).Post("/register", h.Register)

		r.Get("/articles", h.ListArticles)
		r.Get("/articles/{id}", h.GetArticle)
		r.Get("/articles/{id}/md", h.ArticleMarkdown)
		r.Get("/articles/{id}/raw-md", h.ArticleRawMarkdown)
		r.Get("/articles/{id}/view", h.ArticleView)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Post("/logout", h.Logout)
			r.Get("/validate", h.Validate)
			r.Get("/current-user", h.CurrentUser)
			r.Get("/user-profile", h.UserProfile)

			r.Get("/members", h.ListMembers)
			r.Post("/members", h.CreateMember)
			r.Get("/members/{id}", h.GetMember)
			r.Post("/members/{id}/edit", h.EditMember)
			r.Post("/members/{id}/ban", h.ToggleBan)
			r.Delete("/members/{id}/ban", h.ToggleBan)
			r.Delete("/members/{id}", h.DeleteMember)
			r.Post("/members/{id}/delete", h.DeleteMember)

			r.Post("/articles", h.CreateArticle)
			r.Put("/articles/{id}", h.UpdateArticle)
			r.Put("/articles/{id}/title", h.UpdateArticleTitle)
			r.Delete("/articles/{id}", h.DeleteArticle)

			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Get("/logs", h.Logs)
				r.Get("/stats", h.Stats)
				r.Get("/visits/weekly", h.WeeklyVisits)
				r.Get("/activities/recent", h.RecentActivities)
				r.Get("/registration-requests", h.ListRegistrations)
				r.Get("/registration-requests/{id}", h.GetRegistration)
				r.Post("/registration-requests/{id}/review", h.ReviewRegistration)
				r.Get("/admin/settings", h.GetSettings)
				r.Put("/admin/settings", h.UpdateSettings)
				r.Post("/admin/create-user", h.CreateMember)
			})
		})
	})
	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{"checked_at": time.Now().UTC().Format(time.RFC3339)}
	if err := h.svc.Ready(r.Context()); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		ready["status"] = "degraded"
		ready["components"] = map[string]any{"sqlite": map[string]any{"ok": false}}
		util.WriteJSON(w, 503, ready)
		return
	}
	ready["status"] = "ready"
	ready["components"] = map[string]any{"sqlite": map[string]any{"ok": true}}
	util.WriteJSON(w, 200, ready)
}

// ArticleFile serves the stored Markdown and HTML files behind md_path and html_path.
func (h *Handlers) ArticleFile(w http.ResponseWriter, r *http.Request) {
	switch path.Ext(r.URL.Path) {
	case ".md", ".html":
	default:
		http.NotFound(w, r)
		return
	}
	http.StripPrefix("/articles", http.FileServer(h.svc.ArticleFiles())).ServeHTTP(w, r)
}

func (h *Handlers) origin(r *http.Request) activity.Origin {
	return activity.Origin{IP: middleware.ClientIP(r, h.cfg.TrustProxy), UserAgent: r.UserAgent()}
}

func badJSON(w http.ResponseWriter, r *http.Request) {
	util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
}
