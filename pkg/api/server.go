// Package api is the REST and WebSocket surface: command submission,
// command/response history reads, and streamed responses, fronted by
// bearer authentication and rate limiting.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sovd/cmdexec/pkg/authn"
	"github.com/sovd/cmdexec/pkg/events"
	"github.com/sovd/cmdexec/pkg/queue"
	"github.com/sovd/cmdexec/pkg/ratelimit"
	"github.com/sovd/cmdexec/pkg/services"
)

// Server holds every collaborator the REST/WebSocket handlers need.
type Server struct {
	vehicles   *services.VehicleService
	commands   *services.CommandService
	responses  *services.ResponseService
	dispatcher *queue.Dispatcher
	events     *events.ConnectionManager
	authn      *authn.Verifier
	rateLimit  *ratelimit.Limiter
}

// NewServer creates a new Server.
func NewServer(
	vehicles *services.VehicleService,
	commands *services.CommandService,
	responses *services.ResponseService,
	dispatcher *queue.Dispatcher,
	connections *events.ConnectionManager,
	verifier *authn.Verifier,
	limiter *ratelimit.Limiter,
) *Server {
	return &Server{
		vehicles:   vehicles,
		commands:   commands,
		responses:  responses,
		dispatcher: dispatcher,
		events:     connections,
		authn:      verifier,
		rateLimit:  limiter,
	}
}

// Router builds the gin.Engine with every route wired to its handler, and
// the auth/rate-limit middleware applied per the collaborator contracts:
// the WebSocket endpoint verifies its own token (query param, not a
// header) and is therefore not behind authn.Middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/ws/responses/:id", s.rateLimit.Middleware(), s.streamResponses)

	commands := r.Group("/commands", s.authn.Middleware(), s.rateLimit.Middleware())
	commands.POST("", s.submitCommand)
	commands.GET("", s.listCommands)
	commands.GET("/:id", s.getCommand)
	commands.GET("/:id/responses", s.listCommandResponses)

	return r
}
