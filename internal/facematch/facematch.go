package facematch

import "context"

// Result is the outcome of comparing the faces on two document images.
type Result struct {
	// Detected is false when either image had no usable face.
	Detected   bool
	Similarity float64
	Message    string
}

// Client exposes the subset of the face matcher used by the comparison flow.
type Client interface {
	Compare(ctx context.Context, requestID string, imageA, imageB []byte) (*Result, error)
}
