package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"regexp"
	"time"

	// Registered decoders for the formats the service accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/example/id-verify/internal/logging"
)

// Input is one submitted image slot: exactly one of Base64 or URL must be set.
type Input struct {
	Base64 string `json:"img_base64_str,omitempty"`
	URL    string `json:"img_url,omitempty"`
}

// Image is a decoded, validated submitted image.
type Image struct {
	Bytes  []byte
	Format string
}

var (
	// ErrMissingSource is returned when an input carries neither a base64
	// payload nor a URL.
	ErrMissingSource = errors.New("image requires either base64 data or a url")
	// ErrAmbiguousSource is returned when an input carries both.
	ErrAmbiguousSource = errors.New("image must provide base64 data or a url, not both")
	// ErrUndecodable is returned when the payload is not a decodable image.
	ErrUndecodable = errors.New("image data is not a decodable JPEG, PNG or GIF")
	// ErrTooLarge is returned when the payload exceeds the configured limit.
	ErrTooLarge = errors.New("image exceeds the maximum allowed size")
)

var dataURIPrefix = regexp.MustCompile(`^data:image/[^;]+;base64,`)

// Ingestor decodes submitted image slots into canonical in-memory images.
type Ingestor struct {
	httpClient *http.Client
	maxBytes   int
	logger     *zap.Logger
}

// NewIngestor constructs an image ingestor. maxBytes bounds both base64
// payloads and fetched bodies.
func NewIngestor(maxBytes int, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxBytes:   maxBytes,
		logger:     logger.Named("imaging"),
	}
}

// Ingest resolves one input slot into raw image bytes and validates that the
// result decodes as an image. slot is used only for error context.
func (in *Ingestor) Ingest(ctx context.Context, slot string, input Input) (*Image, error) {
	var (
		raw []byte
		err error
	)

	switch {
	case input.Base64 != "" && input.URL != "":
		return nil, fmt.Errorf("%s: %w", slot, ErrAmbiguousSource)
	case input.Base64 != "":
		raw, err = in.decodeBase64(input.Base64)
	case input.URL != "":
		raw, err = in.fetch(ctx, input.URL)
	default:
		return nil, fmt.Errorf("%s: %w", slot, ErrMissingSource)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", slot, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", slot, ErrUndecodable)
	}
	if in.maxBytes > 0 && len(raw) > in.maxBytes {
		return nil, fmt.Errorf("%s: %w", slot, ErrTooLarge)
	}

	_, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		in.logger.Warn("undecodable image payload", zap.String("slot", slot), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", slot, ErrUndecodable)
	}

	return &Image{Bytes: raw, Format: format}, nil
}

func (in *Ingestor) decodeBase64(payload string) ([]byte, error) {
	payload = dataURIPrefix.ReplaceAllString(payload, "")
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrUndecodable
	}
	return raw, nil
}

func (in *Ingestor) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, logging.NewOperationError("imaging.fetch", "", err)
	}

	resp, err := in.httpClient.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("imaging.fetch", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("imaging.fetch", "",
			fmt.Errorf("unexpected status %d fetching image", resp.StatusCode))
	}

	limit := int64(in.maxBytes)
	if limit <= 0 {
		limit = 5 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, logging.NewOperationError("imaging.fetch", "", err)
	}
	if int64(len(raw)) > limit {
		return nil, ErrTooLarge
	}
	return raw, nil
}
