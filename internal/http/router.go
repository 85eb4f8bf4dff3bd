package http

import (
	"time"

	"github.com/geocoder89/learnhub/internal/auth"
	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/geocoder89/learnhub/internal/cache"
	"github.com/geocoder89/learnhub/internal/config"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/http/handlers"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/geocoder89/learnhub/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	serviceName = "learnhub-api"
	jsonBodyMax = 1 << 20
	catalogTTL  = 30 * time.Second
	uploadScope = "upload"
)

// Deps is everything the router wires into handlers. Stores are interfaces so
// tests can mount the router on fakes.
type Deps struct {
	Config    config.Config
	Prom      *observability.Prom
	Gatherer  prometheus.Gatherer
	JWT       *auth.Manager
	Users     handlers.UserStore
	Roles     handlers.RoleStore
	Refresh   handlers.RefreshTokenStore
	Modules   handlers.ModuleService
	Hierarchy handlers.HierarchyReader
	Ratings   handlers.RatingStore
	// UploadLimiter defaults to an in-process fixed window.
	UploadLimiter ratelimit.Limiter
	Checks        []handlers.Check
}

func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Config.Env != "dev" && d.Config.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()

	// middleware
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.Recovery())
	r.Use(middlewares.SecurityHeaders(d.Config.IsProd()))
	r.Use(middlewares.CORSMiddleware(d.Config.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(jsonBodyMax, d.Config.MaxFileSize+jsonBodyMax))

	// health
	health := handlers.NewHealthHandler(d.Checks...)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authMW := middlewares.NewAuthMiddleware(d.JWT, d.Prom)
	requireAuth := authMW.RequireAuth()
	optionalAuth := authMW.OptionalAuth()
	requireJSON := middlewares.RequireJSON()

	uploadLimiter := d.UploadLimiter
	if uploadLimiter == nil {
		uploadLimiter = ratelimit.NewMemory(d.Config.UploadRateLimit, d.Config.UploadRateWindow)
	}

	authHandler := handlers.NewAuthHandler(d.Users, d.Roles, d.JWT, d.Refresh, handlers.AuthOptions{
		SecureCookies: d.Config.IsProd(),
		Metrics:       d.Prom,
	})
	hierarchyHandler := handlers.NewHierarchyHandler(d.Hierarchy)
	modulesHandler := handlers.NewModulesHandler(d.Modules, d.Config.MaxFileSize)
	rolesHandler := handlers.NewRolesHandler(d.Roles, cache.New(catalogTTL))
	ratingsHandler := handlers.NewRatingsHandler(d.Ratings, d.Modules)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/signup", requireJSON, authHandler.SignUp)
	authGroup.POST("/login", requireJSON, authHandler.Login)
	authGroup.POST("/refresh", authHandler.Refresh)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.GET("/profile", requireAuth, authHandler.Profile)

	api.GET("/subjects", hierarchyHandler.ListSubjects)
	api.GET("/subjects/:id/chapters", hierarchyHandler.ListChapters)
	api.GET("/chapters/:id/subchapters", hierarchyHandler.ListSubchapters)

	modules := api.Group("/modules")
	modules.GET("/subchapter/:subchapterId", optionalAuth, modulesHandler.ListBySubchapter)
	modules.POST("/subchapter/:subchapterId/upload",
		requireAuth,
		middlewares.RequirePermission(role.PermModulesCreate),
		middlewares.RateLimit(uploadLimiter, uploadScope, middlewares.KeyByUserOrIP, d.Prom),
		modulesHandler.Upload,
	)
	modules.GET("/:id", optionalAuth, modulesHandler.Get)
	modules.GET("/:id/download", requireAuth, modulesHandler.Download)
	modules.PUT("/:id", requireAuth, requireJSON, middlewares.RequirePermission(role.PermModulesUpdate), modulesHandler.Update)
	modules.DELETE("/:id", requireAuth, middlewares.RequirePermission(role.PermModulesDelete), modulesHandler.Delete)
	modules.POST("/:id/approve", requireAuth, middlewares.RequirePermission(role.PermModulesApprove), modulesHandler.Approve)
	modules.POST("/:id/reject", requireAuth, requireJSON, middlewares.RequirePermission(role.PermModulesApprove), modulesHandler.Reject)
	modules.POST("/:id/hide", requireAuth, middlewares.RequirePermission(role.PermModulesModerate), modulesHandler.Hide)
	modules.GET("/:id/logs", requireAuth, middlewares.RequirePermission(role.PermModulesModerate), modulesHandler.Logs)

	api.GET("/roles", requireAuth, rolesHandler.ListRoles)
	api.GET("/roles/audit/changes", requireAuth, middlewares.RequirePermission(role.PermRolesManage), rolesHandler.ChangeLogs)
	api.GET("/roles/:id", requireAuth, rolesHandler.GetRole)
	api.GET("/permissions", requireAuth, rolesHandler.ListPermissions)

	users := api.Group("/users", requireAuth)
	users.POST("/roles/assign", requireJSON, middlewares.RequirePermission(role.PermRolesAssign), rolesHandler.Assign)
	users.POST("/roles/revoke", requireJSON, middlewares.RequirePermission(role.PermRolesAssign), rolesHandler.Revoke)
	users.GET("/:id/roles",
		middlewares.GuardResource(
			authz.AnyOf(authz.Ownership(role.RoleAdmin), authz.Permission(role.PermUsersManage)),
			handlers.OwnerFromParam("id"),
		),
		rolesHandler.UserRoles,
	)

	ratings := api.Group("/ratings")
	ratings.GET("/module/:moduleId", optionalAuth, ratingsHandler.ForModule)
	ratings.POST("/module/:moduleId", requireAuth, requireJSON, middlewares.RequirePermission(role.PermRatingsCreate), ratingsHandler.Create)
	ratings.DELETE("/:id",
		requireAuth,
		middlewares.GuardResource(authz.AnyOf(authz.OwnerOnly(), authz.Permission(role.PermRatingsModerate)), ratingsHandler.Owner),
		ratingsHandler.Delete,
	)

	return r, nil
}
