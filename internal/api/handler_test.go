package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/insightdelivered/statement-dashboard/internal/analysis"
	"github.com/insightdelivered/statement-dashboard/internal/logger"
	"github.com/insightdelivered/statement-dashboard/internal/models"
	"github.com/insightdelivered/statement-dashboard/internal/session"
	"github.com/insightdelivered/statement-dashboard/internal/upload"
)

const testMaxBytes = 2 << 20

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   int
	resp    *models.StatementResponse
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, filename string, data []byte) (*models.StatementResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.resp, f.err
}

func (f *fakeAnalyzer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sampleResponse() *models.StatementResponse {
	total := 37
	return &models.StatementResponse{
		AccountInfo: &models.WireAccountInfo{
			CustomerName:      "Sara Al-Harbi",
			AccountNumber:     "1234567890",
			IBANNumber:        "SA0380000000608010167519",
			FinancialPeriod:   "01/01/2024 - 29/02/2024",
			OpeningBalance:    decimal.NewFromInt(15750),
			ClosingBalance:    decimal.NewFromInt(17000),
			PagesProcessed:    3,
			TotalTransactions: &total,
		},
		MonthlyAnalysis: models.MonthlyAnalysis{
			Keys: []string{"Jan", "Feb"},
			Months: map[string]*models.WireMonthly{
				"Jan": {
					OpeningBalance: decimal.NewFromInt(15750),
					ClosingBalance: decimal.NewFromInt(16000),
					TotalCredit:    decimal.NewFromInt(4000),
					TotalDebit:     decimal.NewFromInt(-3750),
					NetChange:      decimal.NewFromInt(250),
					Fluctuation:    decimal.NewFromFloat(4.5),
					MinimumBalance: decimal.NewFromInt(14000),
					MaximumBalance: decimal.NewFromInt(16500),
				},
				"Feb": {
					OpeningBalance: decimal.NewFromInt(16000),
					ClosingBalance: decimal.NewFromInt(17000),
					TotalCredit:    decimal.NewFromInt(3000),
					TotalDebit:     decimal.NewFromInt(-2000),
					NetChange:      decimal.NewFromInt(1000),
					Fluctuation:    decimal.NewFromInt(6),
					MinimumBalance: decimal.NewFromInt(15500),
					MaximumBalance: decimal.NewFromInt(17200),
				},
			},
		},
		Analytics: &models.WireAnalytics{
			AverageFluctuation: decimal.NewFromFloat(5.25),
			SumTotalInflow:     decimal.NewFromInt(7000),
			SumTotalOutflow:    decimal.NewFromInt(-5750),
		},
	}
}

func setupTestApp(t *testing.T, a Analyzer) *fiber.App {
	t.Helper()
	h, err := NewHandler(Options{
		Analyzer:       a,
		Sessions:       session.NewStore(time.Minute),
		MaxUploadBytes: testMaxBytes,
		CurrencySymbol: "$",
		Log:            logger.Discard(),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h.NewApp()
}

func uploadRequest(t *testing.T, path, name, contentType string, data []byte) *http.Request {
	t.Helper()
	body, formType := multipartBody(t, name, contentType, data)
	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", formType)
	return req
}

func multipartBody(t *testing.T, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

// browser carries the session cookie between requests like a real client.
type browser struct {
	t      *testing.T
	app    *fiber.App
	cookie *http.Cookie
}

func (b *browser) do(req *http.Request) *http.Response {
	b.t.Helper()
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	resp, err := b.app.Test(req, -1)
	if err != nil {
		b.t.Fatalf("request failed: %v", err)
	}
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			b.cookie = c
		}
	}
	return resp
}

func (b *browser) upload(name, contentType string, data []byte) {
	b.t.Helper()
	resp := b.do(uploadRequest(b.t, "/upload", name, contentType, data))
	if resp.StatusCode != fiber.StatusSeeOther {
		b.t.Fatalf("expected 303 after upload, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		b.t.Fatalf("expected redirect to /, got %q", loc)
	}
}

func (b *browser) page() string {
	b.t.Helper()
	resp := b.do(httptest.NewRequest("GET", "/", nil))
	if resp.StatusCode != fiber.StatusOK {
		b.t.Fatalf("expected 200 for index, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestHealthEndpoint(t *testing.T) {
	app := setupTestApp(t, &fakeAnalyzer{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", result["status"])
	}
	if result["version"] != Version {
		t.Errorf("expected version=%s, got %q", Version, result["version"])
	}
}

func TestIndexShowsUploadScreen(t *testing.T) {
	b := &browser{t: t, app: setupTestApp(t, &fakeAnalyzer{})}

	page := b.page()
	if !strings.Contains(page, `action="/upload"`) {
		t.Error("expected upload form")
	}
	if !strings.Contains(page, "up to 2.0 MiB") {
		t.Error("expected size hint on upload screen")
	}
	if b.cookie == nil {
		t.Error("expected session cookie to be issued")
	}
}

func TestUploadFormChecksBeforeSending(t *testing.T) {
	b := &browser{t: t, app: setupTestApp(t, &fakeAnalyzer{})}

	page := b.page()
	for _, want := range []string{
		`data-max-bytes="2097152"`,
		`data-too-large="File is too large. Maximum size is 2.0 MiB."`,
		`data-invalid-type="Invalid file type. Please upload a PDF file."`,
		`file.type !== "application/pdf"`,
		`event.preventDefault()`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("upload page missing %s", want)
		}
	}
}

func TestOversizedUploadOverNetwork(t *testing.T) {
	a := &fakeAnalyzer{resp: sampleResponse()}
	app := setupTestApp(t, a)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	base := "http://" + ln.Addr().String()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	scan := append(append([]byte{}, pdfBytes...), make([]byte, 4<<20)...)

	post := func(path string) *http.Response {
		t.Helper()
		body, formType := multipartBody(t, "scan.pdf", "application/pdf", scan)
		req, err := http.NewRequest("POST", base+path, body)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", formType)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	resp := post("/upload")
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusSeeOther {
		t.Fatalf("form upload: expected 303, got %d", resp.StatusCode)
	}

	resp, err = client.Get(base + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), upload.TooLargeMessage(testMaxBytes)) {
		t.Error("expected too-large banner after a 4 MiB upload")
	}

	resp = post("/api/analyze")
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Errorf("api: expected 413, got %d", resp.StatusCode)
	}
	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Kind != upload.KindTooLarge {
		t.Errorf("kind = %q, want %q", result.Kind, upload.KindTooLarge)
	}

	if a.Calls() != 0 {
		t.Errorf("analyzer should not be called, got %d calls", a.Calls())
	}
}

func TestUnknownAPIRouteHasNoUploadKind(t *testing.T) {
	app := setupTestApp(t, &fakeAnalyzer{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/missing", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Kind != "" {
		t.Errorf("kind should be empty, got %q", result.Kind)
	}
	if result.Error == "" {
		t.Error("expected an error message")
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		want        string
	}{
		{"image", "scan.png", "image/png", []byte("\x89PNG\r\n\x1a\n"), upload.MsgInvalidType},
		{"text disguised as pdf", "notes.pdf", "application/pdf", []byte("just some text"), upload.MsgInvalidType},
		{"too large", "big.pdf", "application/pdf", append(append([]byte{}, pdfBytes...), make([]byte, testMaxBytes)...), upload.TooLargeMessage(testMaxBytes)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{resp: sampleResponse()}
			b := &browser{t: t, app: setupTestApp(t, a)}

			b.upload(tt.filename, tt.contentType, tt.data)
			page := b.page()

			if !strings.Contains(page, tt.want) {
				t.Errorf("expected banner %q on upload screen", tt.want)
			}
			if a.Calls() != 0 {
				t.Errorf("analyzer should not be called, got %d calls", a.Calls())
			}
		})
	}
}

func TestUploadShowsResults(t *testing.T) {
	a := &fakeAnalyzer{resp: sampleResponse()}
	b := &browser{t: t, app: setupTestApp(t, a)}

	b.upload("statement.pdf", "application/pdf", pdfBytes)
	page := b.page()

	for _, want := range []string{"$15,750.00", "$17,000.00", "Sara Al-Harbi", "SA0380000000608010167519", "Jan", "Feb", "/charts/area.svg"} {
		if !strings.Contains(page, want) {
			t.Errorf("results page missing %q", want)
		}
	}
	if strings.Contains(page, `action="/upload"`) {
		t.Error("upload form should be hidden while showing results")
	}
	if a.Calls() != 1 {
		t.Errorf("expected 1 analyzer call, got %d", a.Calls())
	}
}

func TestUploadMissingSectionsRenderZeros(t *testing.T) {
	resp := sampleResponse()
	resp.Analytics = nil
	resp.MonthlyAnalysis = models.MonthlyAnalysis{}
	b := &browser{t: t, app: setupTestApp(t, &fakeAnalyzer{resp: resp})}

	b.upload("statement.pdf", "application/pdf", pdfBytes)
	page := b.page()

	if !strings.Contains(page, "$0.00") {
		t.Error("expected zero amounts for missing analytics")
	}
	if !strings.Contains(page, "No monthly data") {
		t.Error("expected empty monthly placeholder")
	}
	if !strings.Contains(page, "Not enough data") {
		t.Error("expected chart placeholders")
	}
}

func TestUploadSurfacesServerError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"server message", &analysis.ServerError{Status: 400, Message: "Unable to read PDF file"}, "Unable to read PDF file"},
		{"server without message", &analysis.ServerError{Status: 500}, MsgAnalysisFailed},
		{"network", &analysis.NetworkError{Err: errors.New("connection refused")}, "Network error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &browser{t: t, app: setupTestApp(t, &fakeAnalyzer{err: tt.err})}

			b.upload("statement.pdf", "application/pdf", pdfBytes)
			page := b.page()

			if !strings.Contains(page, tt.want) {
				t.Errorf("expected banner containing %q", tt.want)
			}
			if !strings.Contains(page, `action="/upload"`) {
				t.Error("expected upload screen after failure")
			}
		})
	}
}

func TestResetReturnsToUpload(t *testing.T) {
	b := &browser{t: t, app: setupTestApp(t, &fakeAnalyzer{resp: sampleResponse()})}

	b.upload("statement.pdf", "application/pdf", pdfBytes)
	if page := b.page(); !strings.Contains(page, "$15,750.00") {
		t.Fatal("expected results before reset")
	}

	resp := b.do(httptest.NewRequest("POST", "/reset", nil))
	if resp.StatusCode != fiber.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}

	page := b.page()
	if !strings.Contains(page, `action="/upload"`) {
		t.Error("expected upload screen after reset")
	}
	if strings.Contains(page, "$15,750.00") {
		t.Error("results should be cleared after reset")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	app := setupTestApp(t, &fakeAnalyzer{resp: sampleResponse()})
	first := &browser{t: t, app: app}
	second := &browser{t: t, app: app}

	first.upload("statement.pdf", "application/pdf", pdfBytes)

	if page := second.page(); strings.Contains(page, "$15,750.00") {
		t.Error("second session should not see first session's results")
	}
}

func TestSecondUploadRefusedWhileAnalyzing(t *testing.T) {
	a := &fakeAnalyzer{
		resp:    sampleResponse(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	b := &browser{t: t, app: setupTestApp(t, a)}
	b.page() // obtain a session cookie first
	cookie := b.cookie

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := uploadRequest(t, "/upload", "first.pdf", "application/pdf", pdfBytes)
		req.AddCookie(cookie)
		if _, err := b.app.Test(req, -1); err != nil {
			t.Errorf("first upload failed: %v", err)
		}
	}()

	select {
	case <-a.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first analysis never started")
	}

	b.upload("second.pdf", "application/pdf", pdfBytes)
	if page := b.page(); !strings.Contains(page, "Analyzing first.pdf") {
		t.Error("expected busy indicator for the in-flight upload")
	}

	close(a.release)
	<-done

	if a.Calls() != 1 {
		t.Errorf("expected exactly 1 analyzer call, got %d", a.Calls())
	}
	if page := b.page(); !strings.Contains(page, "$15,750.00") {
		t.Error("expected results from the first upload")
	}
}

func TestThrottledUploadDuringAnalysisLogsRefusal(t *testing.T) {
	var logs bytes.Buffer
	a := &fakeAnalyzer{
		resp:    sampleResponse(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h, err := NewHandler(Options{
		Analyzer:       a,
		Sessions:       session.NewStore(time.Minute),
		MaxUploadBytes: testMaxBytes,
		CurrencySymbol: "$",
		Limiter:        rate.NewLimiter(rate.Every(time.Hour), 1),
		Log:            logger.NewWithOutput(&logs, "info", "json"),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	b := &browser{t: t, app: h.NewApp()}
	b.page()
	cookie := b.cookie

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := uploadRequest(t, "/upload", "first.pdf", "application/pdf", pdfBytes)
		req.AddCookie(cookie)
		if _, err := b.app.Test(req, -1); err != nil {
			t.Errorf("first upload failed: %v", err)
		}
	}()

	select {
	case <-a.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first analysis never started")
	}

	// The limiter has no tokens left, so this goes through the error handler.
	b.upload("second.pdf", "application/pdf", pdfBytes)

	close(a.release)
	<-done

	if !strings.Contains(logs.String(), models.ErrAnalysisInProgress.Error()) {
		t.Errorf("refusal log should record the in-progress error:\n%s", logs.String())
	}
	if page := b.page(); !strings.Contains(page, "$15,750.00") {
		t.Error("throttled upload should not disturb the running analysis")
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	app := setupTestApp(t, &fakeAnalyzer{resp: sampleResponse()})

	resp, err := app.Test(uploadRequest(t, "/api/analyze", "statement.pdf", "application/pdf", pdfBytes), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.Success || result.Dashboard == nil {
		t.Fatalf("expected success with dashboard, got %+v", result)
	}
	if len(result.Dashboard.Months) != 2 || result.Dashboard.Months[0].Month != "Jan" {
		t.Errorf("expected Jan, Feb months, got %+v", result.Dashboard.Months)
	}
	if !result.Dashboard.Account.OpeningBalance.Equal(decimal.NewFromInt(15750)) {
		t.Errorf("opening balance = %s", result.Dashboard.Account.OpeningBalance)
	}
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	tests := []struct {
		name        string
		analyzer    *fakeAnalyzer
		contentType string
		data        []byte
		wantStatus  int
		wantKind    upload.Kind
	}{
		{"invalid type", &fakeAnalyzer{}, "text/plain", []byte("hello"), fiber.StatusBadRequest, upload.KindInvalidType},
		{"too large", &fakeAnalyzer{}, "application/pdf", make([]byte, testMaxBytes+1), fiber.StatusRequestEntityTooLarge, upload.KindTooLarge},
		{"service error", &fakeAnalyzer{err: &analysis.ServerError{Status: 500, Message: "boom"}}, "application/pdf", pdfBytes, fiber.StatusBadGateway, upload.KindUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTestApp(t, tt.analyzer)
			resp, err := app.Test(uploadRequest(t, "/api/analyze", "statement.pdf", tt.contentType, tt.data), -1)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}

			var result AnalyzeResponse
			body, _ := io.ReadAll(resp.Body)
			if err := json.Unmarshal(body, &result); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if result.Success || result.Error == "" {
				t.Errorf("expected error response, got %+v", result)
			}
			if result.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", result.Kind, tt.wantKind)
			}
		})
	}
}

func TestChartsAndExportsRequireResults(t *testing.T) {
	b := &browser{t: t, app: setupTestApp(t, &fakeAnalyzer{resp: sampleResponse()})}

	paths := []string{"/charts/area.svg", "/export/monthly.csv", "/export/monthly.xlsx"}
	for _, p := range paths {
		if resp := b.do(httptest.NewRequest("GET", p, nil)); resp.StatusCode != fiber.StatusNotFound {
			t.Errorf("%s before results: expected 404, got %d", p, resp.StatusCode)
		}
	}

	b.upload("statement.pdf", "application/pdf", pdfBytes)

	resp := b.do(httptest.NewRequest("GET", "/charts/area.svg", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("chart: expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<svg") {
		t.Error("chart response is not SVG")
	}

	resp = b.do(httptest.NewRequest("GET", "/export/monthly.csv", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("csv: expected 200, got %d", resp.StatusCode)
	}
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Jan") || !strings.Contains(string(body), "15750.00") {
		t.Errorf("unexpected CSV export:\n%s", body)
	}

	if resp := b.do(httptest.NewRequest("GET", "/charts/unknown.svg", nil)); resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("unknown chart: expected 404, got %d", resp.StatusCode)
	}
}
