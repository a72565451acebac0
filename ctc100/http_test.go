package ctc100_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/cryocycle/ctc100"
	"github.com/nasa-jpl/cryocycle/generichttp"
)

func newTestServer(t *testing.T) (*httptest.Server, *ctc100.Simulator) {
	t.Helper()
	sim := ctc100.NewSimulator()
	r := chi.NewRouter()
	ctc100.NewHTTPWrapper(ctc100.NewMock(sim)).RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sim
}

func TestHTTPReadChan(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/read/Tp")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f := generichttp.FloatT{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
	assert.InDelta(t, 40., f.F64, 1e-9)
}

func TestHTTPReadAll(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/read")
	require.NoError(t, err)
	defer resp.Body.Close()

	snap := map[string]float64{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Contains(t, snap, "Tr")
}

func TestHTTPPIDMode(t *testing.T) {
	srv, sim := newTestServer(t)
	resp, err := http.Post(srv.URL+"/switch/pid-mode", "application/json", strings.NewReader(`{"bool": true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "On", sim.Param("switch.PID.Mode"))

	resp, err = http.Get(srv.URL + "/switch/pid-mode")
	require.NoError(t, err)
	defer resp.Body.Close()
	b := generichttp.BoolT{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	assert.True(t, b.Bool)
}

func TestHTTPSetpointAndOutputEnable(t *testing.T) {
	srv, sim := newTestServer(t)
	resp, err := http.Post(srv.URL+"/hpump/pid-setpoint", "application/json", strings.NewReader(`{"f64": 38.5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "38.500", sim.Param("hpump.PID.Setpoint"))

	resp, err = http.Post(srv.URL+"/output-enable", "application/json", strings.NewReader(`{"bool": true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "on", sim.Param("outputEnable"))
}

func TestHTTPInputAndOutputConfig(t *testing.T) {
	srv, sim := newTestServer(t)
	resp, err := http.Post(srv.URL+"/Tr/input-config", "application/json", strings.NewReader(`{"sensor": "ROX", "power": "Auto"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ROX", sim.Param("Tr.Sensor"))
	assert.Equal(t, "Auto", sim.Param("Tr.Power"))

	resp, err = http.Post(srv.URL+"/hpump/output-config", "application/json", strings.NewReader(`{"io_type": "Set out", "pid_input": "Tp"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Set out", sim.Param("hpump.IOType"))
	assert.Equal(t, "Tp", sim.Param("hpump.PID.Input"))

	resp, err = http.Post(srv.URL+"/hpump/output-config", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/hpump/pid-setpoint", "application/json", strings.NewReader(`nope`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPRaw(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/raw", "application/json", strings.NewReader(`{"str": "getOutputNames?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	s := generichttp.StrT{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "Tp, Tr, T1s, Tsw, hpump, switch", s.Str)
}

func TestHTTPEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/endpoints")
	require.NoError(t, err)
	defer resp.Body.Close()
	var eps []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&eps))
	assert.Contains(t, eps, "GET /read/{ch}")
	assert.Contains(t, eps, "POST /raw")
}
