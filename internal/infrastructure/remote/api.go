package remote

import (
	"context"
	"net/http"
	"net/url"
)

// API is the client-side view of the intake API used by the offline queue.
type API struct {
	client *Client
}

func NewAPI(client *Client) *API {
	return &API{client: client}
}

// Healthy reports whether GET /healthz answers 2xx. It never retries.
func (a *API) Healthy(ctx context.Context) bool {
	return a.client.sendJSON(ctx, http.MethodGet, "/healthz", nil, nil, "healthz") == nil
}

// Entities returns the mutation endpoint of one entity kind.
func (a *API) Entities(kind string) *EntityEndpoint {
	return &EntityEndpoint{client: a.client, kind: kind}
}

type EntityEndpoint struct {
	client *Client
	kind   string
}

func (e *EntityEndpoint) Insert(ctx context.Context, data map[string]any) error {
	return e.client.call(ctx, http.MethodPost, "/v1/entities/"+url.PathEscape(e.kind), data, nil, "insert_"+e.kind)
}

func (e *EntityEndpoint) Update(ctx context.Context, id string, patch map[string]any) error {
	return e.client.call(ctx, http.MethodPatch, e.path(id), patch, nil, "update_"+e.kind)
}

func (e *EntityEndpoint) Delete(ctx context.Context, id string) error {
	return e.client.call(ctx, http.MethodDelete, e.path(id), nil, nil, "delete_"+e.kind)
}

func (e *EntityEndpoint) path(id string) string {
	return "/v1/entities/" + url.PathEscape(e.kind) + "/" + url.PathEscape(id)
}
