package services

import "context"

// HookClient delivers JSON payloads to the webhooks behind the engine hooks
// and automation actions.
type HookClient interface {
	// Post sends body to url and, when out is non-nil, decodes the JSON
	// response into it.
	Post(ctx context.Context, url string, body any, headers map[string]string, out any) error
}
