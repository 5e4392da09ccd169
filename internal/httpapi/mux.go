package httpapi

import (
	"database/sql"
	"net/http"
)

// Registrar attaches a feature's routes.
type Registrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// NewMux builds the node's router. connected reports the uplink state on
// /healthz and may be nil.
func NewMux(db *sql.DB, connected func() bool, features ...Registrar) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, connected)
	for _, f := range features {
		f.RegisterRoutes(mux)
	}
	return mux
}
