package cycle

import (
	"errors"
	"net/http"

	"github.com/nasa-jpl/cryocycle/generichttp"
)

// HTTPWrapper exposes a Supervisor over HTTP.  Start uses the Config and
// Schedule it was made with.
type HTTPWrapper struct {
	Sup      *Supervisor
	Config   Config
	Schedule Schedule

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(sup *Supervisor, cfg Config, sched Schedule) HTTPWrapper {
	w := HTTPWrapper{Sup: sup, Config: cfg, Schedule: sched}
	w.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}: w.Start,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:  w.Stop,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}: w.Status,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/events"}: w.Events,
	}
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Start starts the cycle and replies with {'str': handle}.
// A live cycle is 409 Conflict, an invalid config 400.
func (h HTTPWrapper) Start(w http.ResponseWriter, r *http.Request) {
	hndl, err := h.Sup.Start(h.Config, h.Schedule)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, generichttp.StrT{Str: hndl.ID.String()})
}

// Stop stops the live cycle, if any, and waits for it to exit
func (h HTTPWrapper) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.Sup.Stop(h.Sup.Current()); err != nil {
		// the cycle had already ended on its own
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Status replies with the Status as JSON
func (h HTTPWrapper) Status(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyWithJSON(w, h.Sup.Status())
}

// Events replies with the recent events as a JSON array
func (h HTTPWrapper) Events(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyWithJSON(w, h.Sup.Recent())
}
