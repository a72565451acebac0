package ctc100

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/cryocycle/generichttp"
)

// HTTPWrapper provides HTTP bindings on top of the underlying Go interface
type HTTPWrapper struct {
	// Ctl is the underlying controller
	Ctl *Controller

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(c *Controller) HTTPWrapper {
	w := HTTPWrapper{Ctl: c}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/names"}:               w.Names,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/read"}:                w.ReadAll,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/read/{ch}"}:           w.ReadChan,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/{ch}/pid-mode"}:       w.GetPIDMode,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{ch}/pid-mode"}:      w.SetPIDMode,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{ch}/pid-setpoint"}:  w.SetPIDSetpoint,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/{ch}/alarm"}:          w.GetAlarm,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{ch}/alarm"}:         w.SetAlarm,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output-enable"}:      generichttp.SetBool(c.SetOutputEnable),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{ch}/input-config"}:  w.SetInputConfig,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{ch}/output-config"}: w.SetOutputConfig,
	}
	generichttp.InjectRaw(rt, c)
	w.RouteTable = rt
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Names returns the channel names as a JSON array of strings
func (h HTTPWrapper) Names(w http.ResponseWriter, r *http.Request) {
	names, err := h.Ctl.OutputNames()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, names)
}

// ReadAll reads every channel and returns a JSON object of name => value
func (h HTTPWrapper) ReadAll(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Ctl.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, snap)
}

// ReadChan reads a single channel plucked from the URL and returns it as {'f64': value}
func (h HTTPWrapper) ReadChan(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "ch")
	generichttp.GetFloat(func() (float64, error) {
		return h.Ctl.ReadChannel(ch)
	})(w, r)
}

// GetPIDMode returns {'bool': true} if the PID loop of the output in the URL is on
func (h HTTPWrapper) GetPIDMode(w http.ResponseWriter, r *http.Request) {
	on, err := h.Ctl.PIDMode(chi.URLParam(r, "ch"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.Bool, Bool: on}
	hp.EncodeAndRespond(w, r)
}

// SetPIDMode turns the PID loop of the output in the URL on or off from {'bool': value}
func (h HTTPWrapper) SetPIDMode(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "ch")
	generichttp.SetBool(func(b bool) error {
		return h.Ctl.SetPIDMode(ch, b)
	})(w, r)
}

// SetPIDSetpoint sets the PID setpoint of the output in the URL from {'f64': value}
func (h HTTPWrapper) SetPIDSetpoint(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "ch")
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Ctl.SetPIDSetpoint(ch, f.F64); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetAlarm returns the alarm mode of the input in the URL as {'str': mode}
func (h HTTPWrapper) GetAlarm(w http.ResponseWriter, r *http.Request) {
	mode, err := h.Ctl.AlarmMode(chi.URLParam(r, "ch"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: mode}
	hp.EncodeAndRespond(w, r)
}

// SetAlarm configures the alarm of the input in the URL from a JSON Alarm
func (h HTTPWrapper) SetAlarm(w http.ResponseWriter, r *http.Request) {
	a := Alarm{}
	err := json.NewDecoder(r.Body).Decode(&a)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Ctl.SetAlarm(chi.URLParam(r, "ch"), a); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetInputConfig configures the input in the URL from a JSON InputConfig
func (h HTTPWrapper) SetInputConfig(w http.ResponseWriter, r *http.Request) {
	in := InputConfig{}
	err := json.NewDecoder(r.Body).Decode(&in)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Ctl.SetInputConfig(chi.URLParam(r, "ch"), in); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetOutputConfig configures the output in the URL from a JSON OutputConfig
func (h HTTPWrapper) SetOutputConfig(w http.ResponseWriter, r *http.Request) {
	out := OutputConfig{}
	err := json.NewDecoder(r.Body).Decode(&out)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Ctl.SetOutputConfig(chi.URLParam(r, "ch"), out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
