package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/ocuscan/internal/inference"
	"github.com/example/ocuscan/internal/logging"
)

const maxResponseBytes = 64 << 20 // base64 artifacts can get large

// NewClassifierClient returns an inference client that speaks the classifier's
// HTTP contract: multipart POST to {baseURL}/predict, JSON verdict back.
func NewClassifierClient(baseURL string, timeout time.Duration, logger *zap.Logger) inference.Client {
	return &classifierClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("classifier_client"),
	}
}

type classifierClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func (c *classifierClient) Classify(ctx context.Context, image []byte, contentType string) (*inference.RawResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="scan"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, logging.NewOperationError("httpclient.build_request", "", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, logging.NewOperationError("httpclient.build_request", "", err)
	}
	if err := writer.Close(); err != nil {
		return nil, logging.NewOperationError("httpclient.build_request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, logging.NewOperationError("httpclient.build_request", "", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := &inference.UnavailableError{Cause: err}
		c.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		wrapped := &inference.UnavailableError{
			Cause: fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
		c.logger.Error("classifier returned error status", zap.Int("status", resp.StatusCode))
		return nil, wrapped
	}

	var raw inference.RawResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&raw); err != nil {
		wrapped := &inference.MalformedResponseError{Cause: err}
		c.logger.Error("failed to decode classifier response", zap.Error(wrapped))
		return nil, wrapped
	}
	return &raw, nil
}

// Ping checks that the classifier is reachable before the server starts taking
// traffic. A non-2xx health answer is reported but not fatal to the caller.
func Ping(ctx context.Context, baseURL string, logger *zap.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("classifier health probe returned non-OK status", zap.Int("status", resp.StatusCode))
	}
	return nil
}
