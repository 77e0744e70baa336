// Package server wires the ada HTTP mux: the standard middleware chain,
// the OpenAI-compatible relay surface (behind AuthGate), and the
// management API (behind the admin bearer token). Grounded directly on
// the teacher's own internal/server/server.go New/Start functions and
// adminAuthMiddleware.
package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/rakunlabs/ada"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/DYLCKH/key-hub/internal/authgate"
	"github.com/DYLCKH/key-hub/internal/config"
	"github.com/DYLCKH/key-hub/internal/managementapi"
	"github.com/DYLCKH/key-hub/internal/router"
)

type Server struct {
	config config.Server
	server *ada.Server
}

func New(cfg config.Server, gate *authgate.AuthGate, rt *router.Router, mgmt *managementapi.API) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{config: cfg, server: mux}

	base := cfg.BasePath

	if cfg.ForwardAuth != nil {
		mux.Group(base).Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.ForwardAuth)))
	}

	// ─── OpenAI-compatible relay surface, behind AuthGate ───

	relayGroup := mux.Group(base)
	relayGroup.Use(authGateMiddleware(gate))
	relayGroup.POST("/v1/chat/completions", rt.ChatCompletions)
	relayGroup.POST("/v1/embeddings", rt.Embeddings)
	relayGroup.POST("/v1/images/generations", rt.ImagesGenerations)
	relayGroup.GET("/v1/models", rt.Models)

	// ─── Management API, behind the admin bearer token ───

	apiGroup := mux.Group(base + "/api")
	apiGroup.Use(s.adminAuthMiddleware())

	apiGroup.GET("/channels", mgmt.ListChannels)
	apiGroup.POST("/channels", mgmt.CreateChannel)
	apiGroup.GET("/channels/*", mgmt.GetChannel)
	apiGroup.PUT("/channels/*", mgmt.UpdateChannel)
	apiGroup.DELETE("/channels/*", mgmt.DeleteChannel)

	apiGroup.GET("/keys", mgmt.ListKeys)
	apiGroup.POST("/keys", mgmt.CreateKey)
	apiGroup.POST("/keys/import", mgmt.ImportKeys)
	apiGroup.POST("/keys/check-all", mgmt.CheckAllKeys)
	apiGroup.GET("/keys/*", mgmt.GetKey)
	apiGroup.PUT("/keys/*", mgmt.UpdateKey)
	apiGroup.DELETE("/keys/*", mgmt.DeleteKey)
	apiGroup.POST("/keys/*/check", mgmt.CheckKey)

	apiGroup.GET("/proxies", mgmt.ListProxies)
	apiGroup.POST("/proxies", mgmt.CreateProxy)
	apiGroup.GET("/proxies/*", mgmt.GetProxy)
	apiGroup.PUT("/proxies/*", mgmt.UpdateProxy)
	apiGroup.DELETE("/proxies/*", mgmt.DeleteProxy)
	apiGroup.POST("/proxies/*/test", mgmt.TestProxyHandler)

	apiGroup.GET("/tokens", mgmt.ListTokens)
	apiGroup.POST("/tokens", mgmt.CreateToken)
	apiGroup.PUT("/tokens/*", mgmt.UpdateToken)
	apiGroup.DELETE("/tokens/*", mgmt.DeleteToken)

	apiGroup.GET("/stats", mgmt.Stats)
	apiGroup.GET("/logs", mgmt.Logs)

	apiGroup.GET("/settings", mgmt.GetSettings)
	apiGroup.PUT("/settings", mgmt.UpdateSettings)
	apiGroup.POST("/settings/rotate-key", mgmt.RotateKey)

	mux.Group(base).GET("/health", managementapi.Health)

	return s, nil
}

// authGateMiddleware adapts AuthGate.Authenticate (which needs to swap in
// a context-bearing *http.Request) into the chain-of-handlers shape ada
// middleware expects.
func authGateMiddleware(gate *authgate.AuthGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authedReq, ok := gate.Authenticate(w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, authedReq)
		})
	}
}

// adminAuthMiddleware protects the management API. If no admin_token is
// configured, every admin request is rejected with 403 — the management
// surface is never left open unauthenticated.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.config.AdminToken == "" {
				httpResponse(w, "admin token not configured", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")
			if token != s.config.AdminToken {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}
