package facematch

import "context"

// Face is one detected face, addressable by an opaque token for comparison.
type Face struct {
	Token string `json:"face_token"`
}

// Client exposes the Face Matcher collaborator boundary. Detect finds the
// faces in an image; Compare scores the similarity of two detected faces in
// [0,1].
type Client interface {
	Detect(ctx context.Context, imageBytes []byte) ([]Face, error)
	Compare(ctx context.Context, tokenA, tokenB string) (float64, error)
}
