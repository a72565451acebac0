package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/cryocycle/config"
	"github.com/nasa-jpl/cryocycle/ctc100"
	"github.com/nasa-jpl/cryocycle/cycle"
	"github.com/nasa-jpl/cryocycle/generichttp"
	"github.com/nasa-jpl/cryocycle/notify"
	"github.com/nasa-jpl/cryocycle/server/middleware/locker"
	"github.com/nasa-jpl/cryocycle/telemetry"
)

// buildController returns the controller or its simulator
func buildController(d config.Device) *ctc100.Controller {
	var ctl *ctc100.Controller
	if d.Mock {
		ctl = ctc100.NewMock(ctc100.NewSimulator())
	} else {
		ctl = ctc100.New(d.Addr, d.Serial)
	}
	if d.RatePerSecond > 0 {
		ctl.Limiter = rate.NewLimiter(rate.Limit(d.RatePerSecond), 1)
	}
	return ctl
}

// buildSinks returns every configured sink, always including the log
func buildSinks(n config.Notify, log *zap.SugaredLogger) []notify.Sink {
	sinks := []notify.Sink{notify.LogSink{Log: log.Named("alert")}}
	if n.SlackURL != "" {
		sinks = append(sinks, notify.NewSlackWebhook(n.SlackURL))
	}
	if n.TelegramToken != "" {
		tg, err := notify.NewTelegram(n.TelegramToken, n.TelegramChat)
		if err != nil {
			log.Errorw("telegram alerts disabled", "err", err)
		} else {
			sinks = append(sinks, tg)
		}
	}
	return sinks
}

// node is one HTTPer mounted at a stem of the root router
type node struct {
	stem       string
	httper     generichttp.HTTPer
	middleware []func(http.Handler) http.Handler
}

// BuildMux mounts every node on a chi router.  The router serves a special
// route, /endpoints, which returns a map of stems to the routes under them
// as JSON.
func BuildMux(nodes []node, extra map[string]http.Handler) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	for _, n := range nodes {
		stem := generichttp.SubMuxSanitize(n.stem)
		r := chi.NewRouter()
		r.Use(n.middleware...)
		n.httper.RT().Bind(r)
		root.Mount(stem, r)
		supergraph[stem] = n.httper.RT().Endpoints()
	}
	for path, h := range extra {
		root.Handle(path, h)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

// nodes returns the controller, cycle and telemetry nodes.  Manual writes to
// the controller are locked while the cycle runs.
func nodes(c config.Config, ctl *ctc100.Controller, sup *cycle.Supervisor, cfg cycle.Config, sched cycle.Schedule, tel *telemetry.Logger) []node {
	lock := locker.New(sup.Running)
	dev := ctc100.NewHTTPWrapper(ctl)
	locker.Inject(dev, lock)
	return []node{
		{stem: c.Device.Endpoint, httper: dev, middleware: []func(http.Handler) http.Handler{lock.Check}},
		{stem: "cycle", httper: cycle.NewHTTPWrapper(sup, cfg, sched)},
		{stem: "data", httper: telemetry.NewHTTPWrapper(tel)},
	}
}
