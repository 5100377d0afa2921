package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gitrank/internal/platform/metrics"
	pnet "gitrank/internal/platform/net"
	"gitrank/internal/platform/net/middleware"
)

// Router builds the HTTP surface: the three read endpoints plus health and
// metrics. The rankings have always been served cross-origin, so CORS is
// wide open for GET
func Router(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.AccessLogZerolog(middleware.AccessLogOptions{Slow: 500 * time.Millisecond}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	h := &handlers{svc: svc}
	r.Get("/rank", h.rank)
	r.Get("/users/{id}", h.user)
	r.Get("/languages", h.languages)
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", metrics.Handler())
	return r
}

type handlers struct{ svc *Service }

func (h *handlers) rank(w http.ResponseWriter, r *http.Request) {
	q := RankQuery{
		Country:   r.URL.Query().Get("country"),
		Language:  r.URL.Query().Get("language"),
		Page:      intQuery(r, "page", 0),
		PageCount: intQuery(r, "page_count", 0),
	}
	page, err := h.svc.Rank(r.Context(), q)
	reply(w, r, page, err)
}

func (h *handlers) user(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.User(r.Context(), chi.URLParam(r, "id"))
	reply(w, r, profile, err)
}

func (h *handlers) languages(w http.ResponseWriter, r *http.Request) {
	langs, err := h.svc.Languages(r.Context(), time.Now())
	reply(w, r, langs, err)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	reply(w, r, map[string]string{"status": "ok"}, nil)
}

func reply(w http.ResponseWriter, r *http.Request, data any, err error) {
	reqID := pnet.RequestID(r.Context())
	status, body := pnet.OK(data, reqID)
	if err != nil {
		status, body = pnet.Error(err, reqID)
	}
	pnet.Respond(w, status, body)
}

func intQuery(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
