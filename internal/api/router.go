package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/aigen"
	"github.com/lioarce01/prompt-version-hub/internal/analytics"
	"github.com/lioarce01/prompt-version-hub/internal/api/handlers"
	"github.com/lioarce01/prompt-version-hub/internal/api/middleware"
	"github.com/lioarce01/prompt-version-hub/internal/audit"
	"github.com/lioarce01/prompt-version-hub/internal/auth"
	"github.com/lioarce01/prompt-version-hub/internal/config"
	"github.com/lioarce01/prompt-version-hub/internal/deployment"
	"github.com/lioarce01/prompt-version-hub/internal/experiment"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
	"github.com/lioarce01/prompt-version-hub/internal/quota"
	"github.com/lioarce01/prompt-version-hub/internal/testrun"
	"github.com/lioarce01/prompt-version-hub/internal/usage"
	"github.com/lioarce01/prompt-version-hub/internal/user"
	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

// Queue is the background work the API hands off.
type Queue interface {
	handlers.IndexEnqueuer
	webhook.Enqueuer
}

// Deps are the process-wide collaborators. Redis, Queue and Embedder may be
// nil; the features that need them are then disabled.
type Deps struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Queue     Queue
	Generator llm.Generator
	Embedder  llm.Embedder
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{mux: chi.NewRouter(), cfg: cfg, deps: deps}
}

// Setup builds the handler tree. ctx bounds background janitors started by
// middleware.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux
	db := rt.deps.DB

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins, rt.cfg.Auth.APIKeyHeader))

	rl := middleware.NewRateLimiter(ctx, rt.cfg.RateLimit.RPS, rt.cfg.RateLimit.Burst)
	r.Use(rl.Limit)

	var counter *quota.Counter
	checks := map[string]handlers.Pinger{}
	if db != nil {
		checks["database"] = db
	}
	if rt.deps.Redis != nil {
		counter = quota.NewCounter(rt.deps.Redis)
		checks["redis"] = counter
	}
	health := handlers.NewHealthHandler(checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	users := user.NewService(db)
	issuer := auth.NewIssuer(rt.cfg.Auth.JWTSecret, rt.cfg.Auth.AccessTTL)
	authSvc := auth.NewService(db, users, issuer, rt.cfg.Auth.RefreshTTL)
	apiKeys := auth.NewAPIKeys(db)
	authMW := auth.NewMiddleware(apiKeys, users, issuer, rt.cfg.Auth.APIKeyHeader)

	auditSvc := audit.NewService(db)
	var (
		webhookSvc = webhook.NewService(db, rt.deps.Queue)
		publisher  *webhook.Service
		indexQueue handlers.IndexEnqueuer
	)
	if rt.deps.Queue != nil {
		publisher = webhookSvc
		if rt.deps.Embedder != nil {
			indexQueue = rt.deps.Queue
		}
	}
	notify := handlers.NewNotifier(auditSvc, publisher, indexQueue)

	var similar *prompt.SimilarityIndex
	if rt.deps.Embedder != nil {
		similar = prompt.NewSimilarityIndex(db, rt.deps.Embedder)
	}

	authH := handlers.NewAuthHandler(authSvc, apiKeys, users)
	promptH := handlers.NewPromptHandler(prompt.NewService(db), similar, notify)
	experimentH := handlers.NewExperimentHandler(experiment.NewService(db), notify)
	deploymentH := handlers.NewDeploymentHandler(deployment.NewService(db), notify)
	usageH := handlers.NewUsageHandler(usage.NewService(db))
	kpiH := handlers.NewKPIHandler(analytics.NewService(db))
	testH := handlers.NewTestHandler(testrun.NewService(db, rt.deps.Generator, rt.cfg.Tests.RunConcurrency), notify)
	aiH := handlers.NewAIHandler(aigen.NewService(db, rt.deps.Generator, rt.cfg.RateLimit.AIPerUserPerDay), notify)
	webhookH := handlers.NewWebhookHandler(webhookSvc)
	adminH := handlers.NewAdminHandler(auditSvc, users)

	writers := auth.RequireRole(access.RoleAdmin, access.RoleEditor)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Authenticate)

			r.Post("/auth/logout", authH.Logout)
			r.Get("/auth/me", authH.Me)

			r.Route("/api-keys", func(r chi.Router) {
				r.Post("/", authH.CreateKey)
				r.Get("/", authH.ListKeys)
				r.Delete("/{id}", authH.RevokeKey)
			})

			r.Route("/prompts", func(r chi.Router) {
				r.Get("/", promptH.List)
				r.Get("/search/similar", promptH.SearchSimilar)
				r.Get("/{name}", promptH.GetActive)
				r.Get("/{name}/versions", promptH.ListVersions)
				r.Get("/{name}/versions/{version}", promptH.GetVersion)
				r.Get("/{name}/diff", promptH.Diff)
				r.Post("/{name}/render", promptH.Render)

				r.Group(func(r chi.Router) {
					r.Use(writers)
					r.Post("/", promptH.Create)
					r.Put("/{name}", promptH.Update)
					r.Delete("/{name}", promptH.Delete)
					r.Post("/{name}/rollback/{version}", promptH.Rollback)
					r.Put("/{name}/visibility", promptH.SetVisibility)
					r.Post("/{name}/clone", promptH.Clone)
				})
			})

			r.Route("/ab", func(r chi.Router) {
				r.Get("/policies", experimentH.ListPolicies)
				r.Get("/policies/{name}", experimentH.GetPolicy)
				r.Post("/assign", experimentH.Assign)
				r.Get("/experiments/{name}/stats", experimentH.Stats)

				r.With(writers).Post("/policies", experimentH.SetPolicy)
				r.With(writers).Delete("/policies/{id}", experimentH.DeletePolicy)
			})

			r.Route("/deployments", func(r chi.Router) {
				r.Get("/{env}", deploymentH.Current)
				r.Get("/history/{env}", deploymentH.History)

				r.With(writers).Post("/", deploymentH.Create)
				r.With(writers).Delete("/id/{id}", deploymentH.Delete)
			})

			r.Post("/usage", usageH.Record)
			r.Get("/usage/analytics/by-version", usageH.ByVersion)

			r.Route("/kpis", func(r chi.Router) {
				r.Get("/summary", kpiH.Summary)
				r.Get("/usage-trend", kpiH.UsageTrend)
				r.Get("/version-velocity", kpiH.VersionVelocity)
				r.Get("/top-prompts", kpiH.TopPrompts)
				r.Get("/experiments", kpiH.Experiments)
			})

			r.Route("/tests", func(r chi.Router) {
				r.Get("/{name}", testH.Suite)

				r.Group(func(r chi.Router) {
					r.Use(writers)
					r.Post("/{name}", testH.CreateCase)
					r.Post("/{name}/generate", testH.Generate)
					r.Post("/{name}/run", testH.Run)
					r.Patch("/cases/{id}", testH.UpdateCase)
					r.Delete("/cases/{id}", testH.DeleteCase)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(writers)
				if counter != nil {
					r.Use(middleware.HourlyQuota(counter, "ai", rt.cfg.RateLimit.AIPerIPPerHour))
				}
				r.Post("/ai/generate-prompt", aiH.GeneratePrompt)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.Use(writers)
				r.Post("/", webhookH.Create)
				r.Get("/", webhookH.List)
				r.Delete("/{id}", webhookH.Delete)
				r.Get("/{id}/deliveries", webhookH.Deliveries)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(access.RoleAdmin))
				r.Get("/audit", adminH.AuditLogs)
				r.Get("/users", adminH.Users)
				r.Put("/users/{id}/role", adminH.SetRole)
			})
		})
	})

	return r
}
