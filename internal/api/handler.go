package api

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/insightdelivered/statement-dashboard/internal/analysis"
	"github.com/insightdelivered/statement-dashboard/internal/charts"
	"github.com/insightdelivered/statement-dashboard/internal/extractor"
	"github.com/insightdelivered/statement-dashboard/internal/format"
	"github.com/insightdelivered/statement-dashboard/internal/mapper"
	"github.com/insightdelivered/statement-dashboard/internal/models"
	"github.com/insightdelivered/statement-dashboard/internal/session"
	"github.com/insightdelivered/statement-dashboard/internal/upload"
	"github.com/insightdelivered/statement-dashboard/internal/writer"
)

// Version is reported by /api/health.
const Version = "1.0.0"

const sessionCookie = "statement_session"

const (
	MsgAnalysisFailed = "Failed to analyze the bank statement. Please try again."
	MsgNetwork        = "Network error: the analysis service could not be reached. Please try again."
	MsgBusy           = "An analysis is already in progress. Please wait for it to finish."
)

//go:embed templates/*.html
var templateFS embed.FS

// Analyzer sends a statement to the analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, filename string, data []byte) (*models.StatementResponse, error)
}

// AnalyzeResponse is the JSON response from the /api/analyze endpoint.
type AnalyzeResponse struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Kind      upload.Kind       `json:"kind,omitempty"`
	Dashboard *models.Dashboard `json:"dashboard,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Options configures a Handler.
type Options struct {
	Analyzer       Analyzer
	Sessions       *session.Store
	MaxUploadBytes int64
	// MaxRequestBytes caps the request body; zero picks a default well
	// above MaxUploadBytes.
	MaxRequestBytes int64
	CurrencySymbol  string
	// Limiter throttles uploads; nil disables throttling.
	Limiter *rate.Limiter
	Log     *logrus.Logger
}

// Handler holds the HTTP handlers for the dashboard and API.
type Handler struct {
	analyzer  Analyzer
	sessions  *session.Store
	validator upload.Validator
	bodyLimit int64
	currency  string
	limiter   *rate.Limiter
	log       *logrus.Logger
	tmpl      *template.Template
}

// NewHandler parses the page templates and wires the handler's collaborators.
func NewHandler(opts Options) (*Handler, error) {
	h := &Handler{
		analyzer:  opts.Analyzer,
		sessions:  opts.Sessions,
		validator: upload.Validator{MaxBytes: opts.MaxUploadBytes},
		bodyLimit: opts.MaxRequestBytes,
		currency:  opts.CurrencySymbol,
		limiter:   opts.Limiter,
		log:       opts.Log,
	}
	if h.bodyLimit <= h.validator.MaxBytes {
		h.bodyLimit = defaultBodyLimit
		if floor := h.validator.MaxBytes + multipartOverhead; h.bodyLimit < floor {
			h.bodyLimit = floor
		}
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"currency": func(v interface{}) string { return format.Currency(toDecimal(v), h.currency) },
		"percent":  func(v interface{}) string { return format.Percent(toDecimal(v)) },
		"number":   func(v interface{}) string { return format.Number(toDecimal(v)) },
		"count":    format.Count,
		"negative": func(v interface{}) bool { return toDecimal(v).IsNegative() },
		"orDash": func(s string) string {
			if strings.TrimSpace(s) == "" {
				return "—"
			}
			return s
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	h.tmpl = tmpl
	return h, nil
}

func toDecimal(v interface{}) decimal.Decimal {
	switch x := v.(type) {
	case decimal.Decimal:
		return x
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case float64:
		return decimal.NewFromFloat(x)
	}
	return decimal.Zero
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/", h.handleIndex)
	app.Post("/upload", h.throttle, h.handleUpload)
	app.Post("/reset", h.handleReset)
	app.Get("/charts/:file", h.handleChart)
	app.Get("/export/monthly.csv", h.handleExportCSV)
	app.Get("/export/monthly.xlsx", h.handleExportXLSX)

	api := app.Group("/api", corsMiddleware())
	api.Get("/health", h.handleHealth)
	api.Post("/analyze", h.throttle, h.handleAnalyze)
}

func (h *Handler) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": Version,
	})
}

type chartView struct {
	Kind      charts.Kind
	Title     string
	Available bool
}

type pageData struct {
	State     models.UploadState
	Dashboard *models.Dashboard
	Charts    []chartView
	MaxSize   string
	MaxBytes  int64
	Messages  clientMessages
	Version   string
	CacheKey  int64
}

// clientMessages are the rejection texts the upload form shows before
// anything is sent.
type clientMessages struct {
	TooLarge    string
	InvalidType string
}

func (h *Handler) handleIndex(c *fiber.Ctx) error {
	state := h.sessions.Get(h.sessionID(c))
	data := pageData{
		State:    state,
		MaxSize:  upload.SizeLimit(h.validator.MaxBytes),
		MaxBytes: h.validator.MaxBytes,
		Messages: clientMessages{
			TooLarge:    upload.TooLargeMessage(h.validator.MaxBytes),
			InvalidType: upload.MsgInvalidType,
		},
		Version: Version,
	}
	if state.Phase() == models.PhaseResults {
		data.Dashboard = state.Dashboard
		data.CacheKey = state.Dashboard.AnalyzedAt.UnixNano()
		for _, k := range charts.Kinds {
			data.Charts = append(data.Charts, chartView{
				Kind:      k,
				Title:     k.Title(),
				Available: charts.Available(k, state.Dashboard),
			})
		}
		return h.render(c, "results", data)
	}
	return h.render(c, "upload", data)
}

func (h *Handler) handleUpload(c *fiber.Ctx) error {
	sid := h.sessionID(c)
	entry := h.log.WithField("session", sid)

	f, err := h.readUpload(c)
	if err != nil {
		_, msg := userMessage(err)
		if rerr := h.sessions.Reject(sid, msg); rerr != nil {
			entry.WithError(err).Warn("upload rejected while another analysis is running")
		} else {
			entry.WithError(err).Info("upload rejected")
		}
		return c.Redirect("/", fiber.StatusSeeOther)
	}

	if err := h.sessions.Begin(sid, f.Name, f.Size); err != nil {
		entry.WithError(err).Warn("upload refused")
		return c.Redirect("/", fiber.StatusSeeOther)
	}

	d, err := h.analyze(c, f)
	if err != nil {
		_, msg := userMessage(err)
		h.sessions.Fail(sid, msg)
		entry.WithError(err).Warn("statement analysis failed")
		return c.Redirect("/", fiber.StatusSeeOther)
	}

	h.sessions.Complete(sid, d)
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (h *Handler) handleReset(c *fiber.Ctx) error {
	h.sessions.Reset(h.sessionID(c))
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (h *Handler) handleAnalyze(c *fiber.Ctx) error {
	f, err := h.readUpload(c)
	if err != nil {
		kind, msg := userMessage(err)
		status := fiber.StatusBadRequest
		if kind == upload.KindTooLarge {
			status = fiber.StatusRequestEntityTooLarge
		}
		return c.Status(status).JSON(AnalyzeResponse{Error: msg, Kind: kind, Version: Version})
	}

	d, err := h.analyze(c, f)
	if err != nil {
		kind, msg := userMessage(err)
		h.log.WithError(err).WithField("file", f.Name).Warn("statement analysis failed")
		return c.Status(fiber.StatusBadGateway).JSON(AnalyzeResponse{Error: msg, Kind: kind, Version: Version})
	}

	return c.JSON(AnalyzeResponse{Success: true, Dashboard: d, Version: Version})
}

func (h *Handler) handleChart(c *fiber.Ctx) error {
	kind, ok := charts.ParseKind(strings.TrimSuffix(c.Params("file"), ".svg"))
	if !ok {
		return fiber.ErrNotFound
	}
	d := h.currentDashboard(c)
	if d == nil {
		return fiber.ErrNotFound
	}

	var buf bytes.Buffer
	if err := charts.Render(&buf, kind, d, h.currency); err != nil {
		if errors.Is(err, charts.ErrNoData) {
			return fiber.ErrNotFound
		}
		h.log.WithError(err).WithField("chart", kind).Error("chart rendering failed")
		return err
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("svg")
	return c.Send(buf.Bytes())
}

func (h *Handler) handleExportCSV(c *fiber.Ctx) error {
	d := h.currentDashboard(c)
	if d == nil {
		return fiber.ErrNotFound
	}
	var buf bytes.Buffer
	w := &writer.CSVWriter{IncludeHeader: true}
	if err := w.Write(&buf, d); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="monthly.csv"`)
	c.Type("csv")
	return c.Send(buf.Bytes())
}

func (h *Handler) handleExportXLSX(c *fiber.Ctx) error {
	d := h.currentDashboard(c)
	if d == nil {
		return fiber.ErrNotFound
	}
	var buf bytes.Buffer
	if err := (writer.XLSXWriter{}).Write(&buf, d); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="monthly.xlsx"`)
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	return c.Send(buf.Bytes())
}

// readUpload pulls the single "file" part out of the request and validates it.
func (h *Handler) readUpload(c *fiber.Ctx) (*upload.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, &upload.Error{Kind: upload.KindUpload, Message: upload.MsgSingleFile, Err: err}
	}
	return h.validator.ValidateForm(form)
}

// analyze sends a validated file to the analysis service and maps the result.
func (h *Handler) analyze(c *fiber.Ctx, f *upload.File) (*models.Dashboard, error) {
	entry := h.log.WithFields(logrus.Fields{"file": f.Name, "bytes": f.Size})

	report, err := extractor.Inspect(f.Data)
	switch {
	case err != nil:
		entry.WithError(err).Warn("local PDF inspection failed")
	case !report.HasText:
		entry.WithField("pages", report.Pages).Info("statement has no text layer; relying on remote OCR")
	default:
		entry.WithField("pages", report.Pages).Debug("statement inspected")
	}

	resp, err := h.analyzer.Analyze(c.UserContext(), f.Name, f.Data)
	if err != nil {
		return nil, err
	}

	d := mapper.ToDashboard(resp)
	d.FileName = f.Name
	d.AnalyzedAt = time.Now().UTC()
	if report != nil {
		d.LocalPages = report.Pages
	}
	return d, nil
}

func (h *Handler) currentDashboard(c *fiber.Ctx) *models.Dashboard {
	state := h.sessions.Get(h.sessionID(c))
	if state.Phase() != models.PhaseResults {
		return nil
	}
	return state.Dashboard
}

// sessionID returns the caller's session, issuing a cookie for new visitors.
func (h *Handler) sessionID(c *fiber.Ctx) string {
	if sid := c.Cookies(sessionCookie); session.ValidID(sid) {
		return sid
	}
	if sid, ok := c.Locals(sessionCookie).(string); ok {
		return sid
	}
	sid := session.NewID()
	c.Locals(sessionCookie, sid)
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return sid
}

func (h *Handler) render(c *fiber.Ctx, name string, data pageData) error {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		h.log.WithError(err).WithField("template", name).Error("template rendering failed")
		return err
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

// userMessage turns an upload or analysis error into banner text.
func userMessage(err error) (upload.Kind, string) {
	var uerr *upload.Error
	var serr *analysis.ServerError
	var nerr *analysis.NetworkError
	switch {
	case errors.As(err, &uerr):
		return uerr.Kind, uerr.Message
	case errors.Is(err, models.ErrAnalysisInProgress):
		return upload.KindUpload, MsgBusy
	case errors.As(err, &serr) && serr.Message != "":
		return upload.KindUpload, serr.Message
	case errors.As(err, &nerr):
		return upload.KindUpload, MsgNetwork
	default:
		return upload.KindUpload, MsgAnalysisFailed
	}
}
