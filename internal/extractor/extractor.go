package extractor

import (
	"context"

	"github.com/example/id-verify/internal/document"
)

// Client exposes the Document Extractor collaborator boundary: one decoded
// image and a document type in, structured fields plus a validity verdict out.
type Client interface {
	Extract(ctx context.Context, imageBytes []byte, docType document.Type) (*document.Extraction, error)
}
