package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/id-verify/internal/document"
	"github.com/example/id-verify/internal/logging"
)

// HTTPClient talks to the OCR extraction service over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient constructs a client for the extraction service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("extractor"),
	}
}

type extractRequest struct {
	DocumentType string `json:"document_type"`
	ImageBase64  string `json:"img_base64_str"`
}

type extractResponse struct {
	Fields  map[string]string `json:"fields"`
	Valid   bool              `json:"is_valid_bool"`
	Message string            `json:"err_msg"`
}

// Extract sends one image to the extraction service and returns its verdict.
func (c *HTTPClient) Extract(ctx context.Context, imageBytes []byte, docType document.Type) (*document.Extraction, error) {
	payload, err := json.Marshal(extractRequest{
		DocumentType: string(docType),
		ImageBase64:  base64.StdEncoding.EncodeToString(imageBytes),
	})
	if err != nil {
		return nil, logging.NewOperationError("extractor.marshal", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(payload))
	if err != nil {
		return nil, logging.NewOperationError("extractor.request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("extractor.extract", "", err)
		c.logger.Error("extraction call failed", zap.Error(wrapped), zap.String("document_type", string(docType)))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := statusError{code: resp.StatusCode}
		c.logger.Error("extraction service returned error status",
			zap.Int("status", resp.StatusCode), zap.String("document_type", string(docType)))
		return nil, logging.NewOperationError("extractor.extract", "", err)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, logging.NewOperationError("extractor.decode", "", err)
	}

	return &document.Extraction{
		Fields:  out.Fields,
		Valid:   out.Valid,
		Message: out.Message,
	}, nil
}

// statusError marks non-2xx responses; 5xx responses are retryable.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("extraction service status %d", e.code)
}

func (e statusError) Temporary() bool {
	return e.code >= http.StatusInternalServerError
}
