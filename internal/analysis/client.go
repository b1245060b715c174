package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/insightdelivered/statement-dashboard/internal/models"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// ServerError is a non-success answer from the analysis service. Message
// holds the service's own error text and may be empty.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("analysis service returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("analysis service returned %d", e.Status)
}

// NetworkError means the service could not be reached or did not answer in time.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "analysis request failed: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// Client posts statements to the remote analysis service.
type Client struct {
	endpoint string
	client   *http.Client
	log      *logrus.Logger
}

// NewClient returns a client for the upload endpoint.
func NewClient(endpoint string, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Analyze uploads one PDF as the multipart field "file" and decodes the result.
func (c *Client) Analyze(ctx context.Context, filename string, data []byte) (*models.StatementResponse, error) {
	body, contentType, err := buildBody(filename, data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	entry := c.log.WithFields(logrus.Fields{"endpoint": c.endpoint, "file": filename, "bytes": len(data)})
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		entry.WithError(err).Warn("analysis request failed")
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		entry.WithError(err).Warn("failed to read analysis response")
		return nil, &NetworkError{Err: err}
	}

	entry = entry.WithFields(logrus.Fields{"status": resp.StatusCode, "duration": time.Since(start).String()})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr models.ErrorResponse
		// A body that is not the error shape still yields a ServerError, just without text.
		_ = json.Unmarshal(raw, &apiErr)
		entry.WithField("error", apiErr.Error).Warn("analysis service rejected statement")
		return nil, &ServerError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	var result models.StatementResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		entry.WithError(err).Warn("undecodable analysis response")
		return nil, &ServerError{Status: resp.StatusCode}
	}

	entry.WithField("months", result.MonthlyAnalysis.Len()).Info("statement analyzed")
	return &result, nil
}

func buildBody(filename string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": filename,
	}))
	h.Set("Content-Type", "application/pdf")

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
