package httpapi

import (
	"context"
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Service is the engine surface the handlers use. *goIdentity.Engine
// satisfies it.
type Service interface {
	Login(ctx context.Context, identifier, password string) (*goIdentity.LoginResult, error)
	Register(ctx context.Context, req goIdentity.RegisterRequest) (*goIdentity.User, error)
	RequestOTP(ctx context.Context, req goIdentity.OTPRequest) (goIdentity.DeliveryResult, error)
	VerifyOTP(ctx context.Context, v goIdentity.OTPVerification) (*goIdentity.LoginResult, error)
	Profile(ctx context.Context, userID string) (*goIdentity.User, error)
	UpdateProfile(ctx context.Context, userID string, upd goIdentity.ProfileUpdate) (*goIdentity.User, error)
	RefreshToken(ctx context.Context, refreshToken string) (*goIdentity.TokenPair, error)
	VerifyToken(ctx context.Context, token string) error
	ValidateAccess(ctx context.Context, token string) (*goIdentity.Claims, error)
}

var _ Service = (*goIdentity.Engine)(nil)

type Options struct {
	Logger *zap.Logger
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// Health is called by GET /healthz. A nil func always reports healthy.
	Health         func(ctx context.Context) error
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type handler struct {
	svc    Service
	logger *zap.Logger
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(clientContext)

	r.Get("/healthz", healthHandler(opts.Health))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/user", func(api chi.Router) {
		api.Post("/login/", h.login)
		api.Post("/register/", h.register)
		api.Post("/otp/", h.otp)
		api.Post("/token/refresh/", h.refresh)
		api.Post("/token/verify/", h.verify)

		api.Group(func(g chi.Router) {
			g.Use(middleware.RequireActiveUser(svc))
			g.Get("/account/", h.account)
			g.Put("/account/", h.updateAccount)
			g.Patch("/account/", h.updateAccount)
		})
	})

	return r
}

// clientContext copies the caller's address and user agent into the request
// context for throttling and audit.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := goIdentity.WithClientIP(r.Context(), remoteHost(r.RemoteAddr))
		ctx = goIdentity.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
