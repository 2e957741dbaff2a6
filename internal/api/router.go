package api

import (
	"errors"

	"template-backend/internal/auth"
	"template-backend/internal/observability/metrics"
	"template-backend/internal/rpc"
	"template-backend/internal/users"
)

// Deps carries the services the procedures delegate to.
type Deps struct {
	Sessions *auth.SessionService
	Users    *users.Service
	Recorder *metrics.Recorder
}

// Procedures lists every procedure of the public surface.
func Procedures(deps Deps) []rpc.Procedure {
	procs := make([]rpc.Procedure, 0, 5)
	procs = append(procs, helloProcedures()...)
	procs = append(procs, sessionProcedures(deps.Sessions)...)
	procs = append(procs, userProcedures(deps.Users)...)
	return procs
}

// NewRouter assembles all procedure groups behind the error-mapping and
// session interceptors.
func NewRouter(deps Deps) (*rpc.Router, error) {
	if deps.Sessions == nil {
		return nil, errors.New("api: session service is required")
	}
	if deps.Users == nil {
		return nil, errors.New("api: user service is required")
	}
	return rpc.NewRouter(Procedures(deps),
		rpc.WithInterceptors(rpc.MapAppErrors(), rpc.RequireSession(deps.Sessions)),
		rpc.WithRecorder(deps.Recorder),
	)
}
