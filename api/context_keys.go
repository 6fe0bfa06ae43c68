package api

import "context"

// contextKey is a private type to prevent context key collisions across packages.
type contextKey string

// Context key constants for values propagated through the middleware chain.
const (
	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyUsername stores the basic-auth username (string)
	ContextKeyUsername contextKey = "username"

	// ContextKeyWorkspace stores the investigator's *Workspace
	ContextKeyWorkspace contextKey = "workspace"
)

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyRequestID).(string)
	return id, ok
}

// GetRequestIDOrDefault returns the request ID or "unknown".
func GetRequestIDOrDefault(ctx context.Context) string {
	if id, ok := GetRequestID(ctx); ok && id != "" {
		return id
	}
	return "unknown"
}

// GetUsername extracts the authenticated username from the context.
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ContextKeyUsername).(string)
	return username, ok
}

// GetWorkspace extracts the workspace bound to the request.
func GetWorkspace(ctx context.Context) (*Workspace, bool) {
	ws, ok := ctx.Value(ContextKeyWorkspace).(*Workspace)
	return ws, ok && ws != nil
}
