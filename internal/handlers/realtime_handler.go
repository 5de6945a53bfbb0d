package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
)

// WebSocket serves GET /api/v1/ws?site=<id>&global=1 through the hub. The
// hub writes its own response, including upgrade failures.
func WebSocket(hub http.Handler) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		hub.ServeHTTP(e.Response, e.Request)
		return nil
	}
}
