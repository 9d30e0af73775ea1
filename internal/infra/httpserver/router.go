package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appexplain "github.com/bryanwahyu/skinscan/internal/application/explain"
	appreports "github.com/bryanwahyu/skinscan/internal/application/reports"
	"github.com/bryanwahyu/skinscan/internal/domain/ai"
	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
	"github.com/bryanwahyu/skinscan/internal/infra/export/pdf"
	"github.com/bryanwahyu/skinscan/internal/middleware"
)

// Options carries the cross-cutting pieces of the router.
type Options struct {
	Log            *zap.Logger
	Metrics        *middleware.Metrics
	RateLimiter    *middleware.RateLimiter
	APIKeys        map[string]string
	CORSOrigins    []string
	Health         map[string]middleware.HealthChecker
	Ready          middleware.CheckFunc
	MaxUploadBytes int64
}

type Router struct {
	reportsSvc *appreports.Service
	explainSvc *appexplain.Service
	log        *zap.Logger
	maxUpload  int64
}

func NewRouter(reportsSvc *appreports.Service, explainSvc *appexplain.Service, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	r := &Router{
		reportsSvc: reportsSvc,
		explainSvc: explainSvc,
		log:        opts.Log.With(zap.String("component", "http")),
		maxUpload:  opts.MaxUploadBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(middleware.RequestLogger(r.log))
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateLimiter != nil {
		mux.Use(opts.RateLimiter.Middleware)
	}

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Get("/healthz", middleware.HealthHandler(opts.Health))
	mux.Get("/readyz", middleware.ReadinessHandler(opts.Ready))
	mux.Get("/livez", middleware.LivenessHandler)
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Route("/v1/{user}", func(rt chi.Router) {
		rt.Use(middleware.RequireMatchingUser)
		rt.Post("/images", r.wrap(r.handleUpload))
		rt.Post("/classify", r.wrap(r.handleClassify))
		rt.Post("/reports", r.wrap(r.handleScan))
		rt.Get("/reports/latest", r.wrap(r.handleLatest))
		rt.Get("/reports/{id}", r.wrap(r.handleGet))
		rt.Delete("/reports/{id}", r.wrap(r.handleDelete))
		rt.Post("/reports/{id}/share", r.wrap(r.handleShare))
		rt.Post("/reports/{id}/feedback", r.wrap(r.handleFeedback))
		rt.Get("/reports/{id}/pdf", r.wrap(r.handlePDF))
		rt.Post("/reports/{id}/explanation", r.wrap(r.handleExplain))
		rt.Get("/failures", r.wrap(r.handleFailures))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

var (
	errBadRequest = errors.New("bad request")
	errForbidden  = errors.New("forbidden")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		code := statusOf(err)
		if code == http.StatusServiceUnavailable && retryable(err) {
			w.Header().Set("Retry-After", "1")
		}
		if code >= 500 {
			r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Int("status", code), zap.Error(err))
		}
		writeJSON(w, code, errorBody{Error: err.Error(), Retryable: retryable(err)})
	}
}

// retryable: the same request may succeed when sent again.
func retryable(err error) bool {
	return diagnosis.Retryable(err) || errors.Is(err, domain.ErrConflict)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrNoUser), errors.Is(err, domain.ErrNoImage),
		errors.Is(err, domain.ErrInvalidDoctor), errors.Is(err, domain.ErrEmptyFeedback):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsLifecycle(err), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, diagnosis.ErrDecode), errors.Is(err, diagnosis.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, diagnosis.ErrBusy), errors.Is(err, diagnosis.ErrTimeout), errors.Is(err, diagnosis.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ai.ErrUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func decode(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func reportID(req *http.Request) (domain.ID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateReportID(id); err != nil {
		return "", badRequest("%v", err)
	}
	return domain.ID(id), nil
}

func limitParam(req *http.Request) (int, error) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return middleware.ValidateLimit(0), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("limit must be a number")
	}
	return middleware.ValidateLimit(n), nil
}

// reportResponse pairs the stored report with display labels.
type reportResponse struct {
	Report *domain.Report  `json:"report"`
	Result *diagnosis.View `json:"result,omitempty"`
}

func present(rep *domain.Report) reportResponse {
	snap := rep.Clone()
	out := reportResponse{Report: snap}
	if snap.Diagnosis != nil {
		v := diagnosis.Describe(*snap.Diagnosis)
		out.Result = &v
	}
	return out
}

// POST /v1/{user}/images (multipart field "image")
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	user := chi.URLParam(req, "user")
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload+1<<20)
	if err := req.ParseMultipartForm(8 << 20); err != nil {
		return badRequest("invalid upload: %v", err)
	}
	defer req.MultipartForm.RemoveAll()

	file, hdr, err := req.FormFile("image")
	if err != nil {
		return badRequest("field image is required")
	}
	defer file.Close()
	if hdr.Size > r.maxUpload {
		return badRequest("image larger than %d bytes", r.maxUpload)
	}

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	contentType := http.DetectContentType(head[:n])
	body := io.MultiReader(bytes.NewReader(head[:n]), file)

	ref, err := r.reportsSvc.UploadImage(req.Context(), user, body, hdr.Size, contentType)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]string{"image_ref": ref})
}

type imageBody struct {
	ImageRef string `json:"image_ref"`
}

func (b imageBody) validate(user string) error {
	if err := middleware.ValidateImageRef(b.ImageRef); err != nil {
		return badRequest("%v", err)
	}
	if err := middleware.ValidateImageOwner(user, b.ImageRef); err != nil {
		return fmt.Errorf("%w: %v", errForbidden, err)
	}
	return nil
}

// POST /v1/{user}/classify
func (r *Router) handleClassify(w http.ResponseWriter, req *http.Request) error {
	var body imageBody
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := body.validate(chi.URLParam(req, "user")); err != nil {
		return err
	}
	res, err := r.reportsSvc.ClassifyImage(req.Context(), body.ImageRef)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, diagnosis.Describe(res))
}

// POST /v1/{user}/reports → create + analyze + save
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) error {
	user := chi.URLParam(req, "user")
	var body imageBody
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := body.validate(user); err != nil {
		return err
	}
	rep, err := r.reportsSvc.Scan(req.Context(), user, body.ImageRef)
	if err != nil {
		return err
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/%s/reports/%s", user, rep.Clone().ID))
	return writeJSON(w, http.StatusCreated, present(rep))
}

// GET /v1/{user}/reports/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	user := chi.URLParam(req, "user")
	limit, err := limitParam(req)
	if err != nil {
		return err
	}
	list, err := r.reportsSvc.Latest(req.Context(), user, limit)
	if err != nil {
		return err
	}
	out := make([]reportResponse, 0, len(list))
	for _, rep := range list {
		out = append(out, present(rep))
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /v1/{user}/reports/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	rep, err := r.reportsSvc.Get(req.Context(), chi.URLParam(req, "user"), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, present(rep))
}

// DELETE /v1/{user}/reports/{id}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	if err := r.reportsSvc.Delete(req.Context(), chi.URLParam(req, "user"), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/{user}/reports/{id}/share
// Body: {"doctor_ids": ["dr-1"]}
func (r *Router) handleShare(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	var body struct {
		DoctorIDs []string `json:"doctor_ids"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateDoctorIDs(body.DoctorIDs); err != nil {
		return badRequest("%v", err)
	}
	rep, err := r.reportsSvc.ShareReport(req.Context(), chi.URLParam(req, "user"), id, body.DoctorIDs)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, present(rep))
}

// POST /v1/{user}/reports/{id}/feedback
// Body: {"text": "..."}
func (r *Router) handleFeedback(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	text := middleware.SanitizeString(body.Text)
	if len(text) > 4000 {
		return badRequest("feedback longer than 4000 bytes")
	}
	rep, err := r.reportsSvc.AddFeedback(req.Context(), chi.URLParam(req, "user"), id, text)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, present(rep))
}

// GET /v1/{user}/reports/{id}/pdf
func (r *Router) handlePDF(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	rep, err := r.reportsSvc.Get(req.Context(), chi.URLParam(req, "user"), id)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := pdf.Render(&buf, rep); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.pdf"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, err = buf.WriteTo(w)
	return err
}

// POST /v1/{user}/reports/{id}/explanation
func (r *Router) handleExplain(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	text, err := r.explainSvc.Explain(req.Context(), chi.URLParam(req, "user"), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{
		"report_id":   string(id),
		"explanation": strings.TrimSpace(text),
		"disclaimer":  diagnosis.Disclaimer,
	})
}

// GET /v1/{user}/failures?limit=20
func (r *Router) handleFailures(w http.ResponseWriter, req *http.Request) error {
	limit, err := limitParam(req)
	if err != nil {
		return err
	}
	list, err := r.reportsSvc.Failures(req.Context(), chi.URLParam(req, "user"), limit)
	if err != nil {
		return err
	}
	if list == nil {
		return writeJSON(w, http.StatusOK, []struct{}{})
	}
	return writeJSON(w, http.StatusOK, list)
}
