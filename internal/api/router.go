package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/config"
	"github.com/soaringjerry/csat/internal/middleware"
	"github.com/soaringjerry/csat/internal/services"
)

// Deps are the collaborators the HTTP layer dispatches to.
type Deps struct {
	App         config.AppConfig
	Catalog     services.QuestionSource
	Submissions *services.SubmissionService
	OTP         *services.OTPService
	Auth        *services.AuthService
	Admin       *services.AdminService
	Stats       *services.StatsService
	Export      *services.ExportService
	Tokens      *middleware.TokenIssuer
	// UploadsDir is served read-only under /uploads/ when set.
	UploadsDir string
	// MaxUploadBytes caps a single attachment; request bodies get some
	// headroom on top for the other form fields.
	MaxUploadBytes int64
	StaticDir      string
	Logger         *zap.Logger
}

type Router struct {
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time
}

const (
	maxJSONBody        = 1 << 20
	multipartHeadroom  = 1 << 20
	multipartMemory    = 1 << 20
	defaultUploadLimit = 10 << 20
)

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultUploadLimit
	}
	rt := &Router{deps: deps, mux: http.NewServeMux(), now: func() time.Time { return time.Now().UTC() }}
	rt.register()
	return rt
}

func (rt *Router) register() {
	mux := rt.mux
	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("GET /questions", rt.handleQuestions)
	mux.HandleFunc("POST /submit", rt.handleSubmit)
	mux.HandleFunc("POST /otp/send", rt.handleOTPSend)
	mux.HandleFunc("POST /otp/verify", rt.handleOTPVerify)

	mux.HandleFunc("POST /admin/login", rt.handleAdminLogin)
	admin := rt.deps.Tokens.RequireAdmin
	mux.Handle("GET /admin/submissions", admin(http.HandlerFunc(rt.handleAdminList)))
	mux.Handle("GET /admin/submissions/{id}", admin(http.HandlerFunc(rt.handleAdminGet)))
	mux.Handle("DELETE /admin/submissions/{id}", admin(http.HandlerFunc(rt.handleAdminDelete)))
	mux.Handle("GET /admin/stats", admin(http.HandlerFunc(rt.handleAdminStats)))
	mux.Handle("GET /admin/export", admin(http.HandlerFunc(rt.handleAdminExport)))

	mux.Handle("GET /metrics", promhttp.Handler())

	if rt.deps.UploadsDir != "" {
		files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(rt.deps.UploadsDir)))
		mux.Handle("GET /uploads/", noDirListing(files))
	}
	if rt.deps.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(rt.deps.StaticDir)))
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// Route names the pattern r matches, for metrics labels. Unmatched requests
// share one label so arbitrary paths cannot explode cardinality.
func (rt *Router) Route(r *http.Request) string {
	if _, pattern := rt.mux.Handler(r); pattern != "" {
		return pattern
	}
	return "unmatched"
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler wraps the router in the standard middleware stack, outermost
// first: access log, security headers, CORS, cache control, locale.
func (rt *Router) Handler(allowedOrigin string, hsts bool) http.Handler {
	var h http.Handler = rt
	h = middleware.Locale(h)
	h = middleware.NoStore("/uploads/")(h)
	h = middleware.CORS(allowedOrigin)(h)
	h = middleware.SecureHeaders(hsts)(h)
	return middleware.RequestLogger(rt.deps.Logger, rt.Route)(h)
}
