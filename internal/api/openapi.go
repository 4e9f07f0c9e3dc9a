package api

import (
	"net/http"

	"github.com/mattjoyce/relay/internal/auth"
)

type route struct {
	method, path, summary, scope string
	responses                    map[string]string
}

var routes = []route{
	{"post", "/commands", "Submit a command", auth.ScopeCommandsRW, map[string]string{
		"200": "Blocking submit resolved", "202": "Command queued", "400": "Compile error or invalid target", "503": "Client not running",
	}},
	{"post", "/commands/poll", "Poll command responses", auth.ScopeCommandsRO, map[string]string{
		"200": "Responses and pending ids", "400": "Bad request",
	}},
	{"get", "/commands/{id}", "Get one command", auth.ScopeCommandsRO, map[string]string{
		"200": "Response recorded", "202": "Command pending", "404": "Unknown command",
	}},
	{"get", "/workers", "List worker status", auth.ScopeWorkersRO, map[string]string{"200": "Worker status"}},
	{"get", "/workers/{id}", "Get one worker", auth.ScopeWorkersRO, map[string]string{"200": "Worker status", "404": "Unknown worker"}},
	{"get", "/history", "List journal entries", auth.ScopeHistoryRO, map[string]string{"200": "Journal entries", "404": "Journal disabled"}},
	{"get", "/events", "Stream events", auth.ScopeEventsRO, map[string]string{"200": "text/event-stream"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering every protected route.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for _, rt := range routes {
		responses := map[string]any{
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
		}
		for code, desc := range rt.responses {
			responses[code] = map[string]any{"description": desc}
		}

		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[rt.method] = map[string]any{
			"summary":          rt.summary,
			"responses":        responses,
			"security":         []any{map[string]any{"BearerAuth": []string{rt.scope}}},
			"x-required-scope": rt.scope,
		}
	}
	paths["/healthz"] = map[string]any{
		"get": map[string]any{
			"summary":   "Liveness and worker summary",
			"responses": map[string]any{"200": map[string]any{"description": "Client running"}, "503": map[string]any{"description": "Client not running"}},
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "relay",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
