package middleware

import "github.com/aretw0/tendril/pkg/ports"

// Middleware allows wrapping a TrackerStore to add behavior.
type Middleware func(ports.TrackerStore) ports.TrackerStore

// Chain applies middlewares so that the first one listed sees calls first.
func Chain(store ports.TrackerStore, mws ...Middleware) ports.TrackerStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
