// Package api provides HTTP handlers for the Rowguard authorization engine.
package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/session"
	"github.com/xraph/rowguard/store"
)

// API wires all Rowguard HTTP handlers together.
type API struct {
	eng        *rowguard.Engine
	store      store.Store
	ledger     *session.Ledger
	reconciler *reconcile.Reconciler
	router     forge.Router
}

// New creates an API from an Engine, a composite store, and a Forge router.
func New(eng *rowguard.Engine, st store.Store, router forge.Router) (*API, error) {
	if eng == nil {
		return nil, errors.New("rowguard: api requires an engine")
	}
	if st == nil {
		return nil, errors.New("rowguard: api requires a store")
	}
	rec, err := reconcile.New(st)
	if err != nil {
		return nil, err
	}
	return &API{
		eng:        eng,
		store:      st,
		ledger:     session.NewLedger(st),
		reconciler: rec,
		router:     router,
	}, nil
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	if err := a.RegisterRoutes(a.router); err != nil {
		panic("rowguard: register routes: " + err.Error())
	}
	return a.router.Handler()
}

// RegisterRoutes registers all API routes into the given Forge router.
func (a *API) RegisterRoutes(router forge.Router) error {
	registerers := []func(forge.Router) error{
		a.registerCheckRoutes,
		a.registerBindingRoutes,
		a.registerReconcileRoutes,
		a.registerSessionRoutes,
		a.registerHealthRoutes,
	}
	for _, fn := range registerers {
		if err := fn(router); err != nil {
			return err
		}
	}
	return nil
}
