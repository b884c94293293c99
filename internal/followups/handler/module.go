package handler

import (
	apphttp "travel_crm_backend/internal/http"
)

// Module mounts the follow-up and scoring routes on the ops group.
type Module struct {
	handler *Handler
}

func NewModule(h *Handler) *Module {
	return &Module{handler: h}
}

func (m *Module) Name() string {
	return "followups"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Ops.Group("/leads"), ctx.Ops.Group("/followups"))
}

var _ apphttp.Module = (*Module)(nil)
