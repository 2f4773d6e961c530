package router

import (
	"github.com/gorilla/mux"
)

type Controller interface {
	Register(router *mux.Router)
}

// Mount registers every controller on r in order.
func Mount(r *mux.Router, controllers ...Controller) {
	for _, c := range controllers {
		c.Register(r)
	}
}
