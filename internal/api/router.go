package api

import (
	"net"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "github.com/devlink/identity/docs"
	"github.com/devlink/identity/internal/api/handler"
	"github.com/devlink/identity/internal/api/middleware"
	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/infrastructure/http/handlers"
)

// RouterConfig carries everything the router needs.
type RouterConfig struct {
	Auth           ports.AuthService
	Dependencies   []handlers.Dependency
	CORSOrigins    []string
	RateLimitRPS   float64 // zero disables rate limiting
	RateLimitBurst int
	// TrustedProxies enables X-Forwarded-For extraction for requests arriving
	// from these ranges. Empty means the peer address is the client address.
	TrustedProxies []*net.IPNet
	Log            zerolog.Logger
	// Registry defaults to the global Prometheus registry.
	Registry *prometheus.Registry
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(cfg.Log)
	e.IPExtractor = ipExtractor(cfg.TrustedProxies)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(cfg.Log))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	e.Use(echomiddleware.BodyLimit("64K"))
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if cfg.Registry != nil {
		registerer, gatherer = cfg.Registry, cfg.Registry
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "identity",
		Registerer: registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	// --- Handlers ---
	authHandler := handler.NewAuthHandler(cfg.Auth)
	userHandler := handler.NewUserHandler(cfg.Auth)
	authenticate := middleware.Authenticate(cfg.Auth)

	v1 := e.Group("/v1")
	if cfg.RateLimitRPS > 0 {
		v1.Use(echomiddleware.RateLimiter(echomiddleware.NewRateLimiterMemoryStoreWithConfig(
			echomiddleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitRPS),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}

	// --- Auth routes ---
	auth := v1.Group("/auth")
	auth.POST("/signup", authHandler.Signup)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/verify-email", authHandler.VerifyEmail)
	auth.POST("/resend-verification", authHandler.ResendVerification)
	auth.POST("/forgot-password", authHandler.ForgotPassword)
	auth.POST("/reset-password", authHandler.ResetPassword)
	auth.GET("/profile", authHandler.Profile, authenticate)
	auth.POST("/logout", authHandler.Logout, authenticate)
	auth.POST("/logout-all", authHandler.LogoutAll, authenticate)

	// --- User routes ---
	users := v1.Group("/users")
	users.PUT("/profile", userHandler.UpdateProfile, authenticate)
	users.DELETE("/profile", userHandler.DeleteAccount, authenticate)
	users.POST("/change-password", userHandler.ChangePassword, authenticate)

	users.GET("", userHandler.List, middleware.RequireRole(cfg.Auth, domain.RoleAdmin, domain.RoleModerator))
	users.GET("/:id", userHandler.Get, middleware.RequirePermission(cfg.Auth, "user:read"))
	admin := middleware.RequireRole(cfg.Auth, domain.RoleAdmin)
	users.POST("/:id/activate", userHandler.Activate, admin)
	users.POST("/:id/deactivate", userHandler.Deactivate, admin)
	users.PUT("/:id/role", userHandler.AssignRole, admin)
	users.GET("/:id/audit", userHandler.Audit, admin)

	// --- Health probes and tooling (no auth required) ---
	healthHandler := handlers.NewHealthHandler()
	healthDepsHandler := handlers.NewHealthDependenciesHandler(3*time.Second, cfg.Dependencies...)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))
	e.GET("/docs/*", echoSwagger.WrapHandler)

	return e
}

// ipExtractor resolves c.RealIP() for the rate limiter and device metadata.
func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			entry := log.Info()
			if v.Status >= 500 {
				entry = log.Error().Err(v.Error)
			}
			entry.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}
