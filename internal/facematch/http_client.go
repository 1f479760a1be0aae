package facematch

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

	"github.com/example/id-verify/internal/logging"
)

// HTTPClient talks to the face detection/comparison service over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient constructs a client for the face service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("facematch"),
	}
}

type detectRequest struct {
	ImageBase64 string `json:"img_base64_str"`
}

type detectResponse struct {
	Faces []Face `json:"faces"`
}

type compareRequest struct {
	FaceTokenA string `json:"face_token_a"`
	FaceTokenB string `json:"face_token_b"`
}

type compareResponse struct {
	Confidence float64 `json:"confidence"`
}

// Detect returns the faces found in an image.
func (c *HTTPClient) Detect(ctx context.Context, imageBytes []byte) ([]Face, error) {
	var out detectResponse
	err := c.post(ctx, "/v1/detect", detectRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
	}, &out)
	if err != nil {
		return nil, logging.NewOperationError("facematch.detect", "", err)
	}
	return out.Faces, nil
}

// Compare scores the similarity of two previously detected faces.
func (c *HTTPClient) Compare(ctx context.Context, tokenA, tokenB string) (float64, error) {
	var out compareResponse
	err := c.post(ctx, "/v1/compare", compareRequest{FaceTokenA: tokenA, FaceTokenB: tokenB}, &out)
	if err != nil {
		return 0, logging.NewOperationError("facematch.compare", "", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return 0, logging.NewOperationError("facematch.compare", "",
			fmt.Errorf("confidence %f out of range", out.Confidence))
	}
	return out.Confidence, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("face service call failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("face service returned error status",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return statusError{code: resp.StatusCode}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError marks non-2xx responses; 5xx responses are retryable.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("face service status %d", e.code)
}

func (e statusError) Temporary() bool {
	return e.code >= http.StatusInternalServerError
}
