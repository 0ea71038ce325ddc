// Package client defines the interface shared by the vision model backends.
package client

import "context"

// VisionClient sends a prompt with one base64 encoded image to a vision
// language model and returns the model's text reply
type VisionClient interface {
	// SimpleQuery asks for a free-form answer
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	// QueryJSON asks the server to constrain the answer to a JSON object
	QueryJSON(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
