package router

import (
	"net/http"

	docHandler "docverify/internal/document"
	"docverify/middleware"
	"docverify/socket"
)

// Setup wires the document API, the public verification lookup and the
// websocket endpoint behind CORS.
func Setup(h *docHandler.DocumentHandler, hub *socket.Hub, jwtSecret, corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(jwtSecret)
	resolver := func(fn http.HandlerFunc) http.Handler {
		return auth(middleware.RequireResolver(fn))
	}

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		socket.ServeWs(hub, w, r, middleware.UserIDFrom(ctx), middleware.RoleFrom(ctx))
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	mux.Handle("/api/documents/upload", auth(http.HandlerFunc(h.Upload)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(h.GetDocuments)))
	mux.Handle("/api/documents/get", auth(http.HandlerFunc(h.GetDocument)))
	mux.Handle("/api/documents/steps", auth(http.HandlerFunc(h.GetSteps)))
	mux.Handle("/api/analytics", auth(http.HandlerFunc(h.Analytics)))
	mux.Handle("/api/admin/queue", resolver(h.PendingQueue))
	mux.Handle("/api/admin/resolve", resolver(h.Resolve))
	mux.Handle("/api/admin/uploaders", resolver(h.Uploaders))

	// Public
	mux.HandleFunc("/api/verify", h.Verify)

	return middleware.CORSMiddleware(corsOrigin)(mux)
}
