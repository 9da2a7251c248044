package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/config"
	"github.com/roach88/loom/internal/events"
	"github.com/roach88/loom/internal/lifecycle"
	"github.com/roach88/loom/internal/metrics"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/rulefile"
	"github.com/roach88/loom/internal/service"
	"github.com/roach88/loom/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPromRecorder(reg)
	require.NoError(t, err)
	svc := service.New(testutil.OpenStore(t), config.Default(),
		service.WithClock(testutil.NewFixedClock(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))),
		service.WithIDs(testutil.NewSequenceIDs("id")),
		service.WithSampler(testutil.FixedSampler{}),
		service.WithRecorder(rec))
	return NewRouter(svc, nil, reg)
}

func do(t *testing.T, router *gin.Engine, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return do(t, router, method, path, "application/json", data)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seedCentre imports the rulefile fixture over HTTP and generates a
// two-week window.
func seedCentre(t *testing.T, router *gin.Engine) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "rulefile", "testdata", "centre.yaml"))
	require.NoError(t, err)
	w := do(t, router, http.MethodPost, "/v1/rules", "application/yaml", data)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sum := decode[rulefile.Summary](t, w)
	assert.Equal(t, 1, sum.Rules)

	w = doJSON(t, router, http.MethodPost, "/v1/window", gin.H{"weeks": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func firstInstance(t *testing.T, router *gin.Engine) model.Instance {
	t.Helper()
	w := doJSON(t, router, http.MethodGet, "/v1/instances?start=2026-10-19&end=2026-10-20", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	insts := decode[[]model.Instance](t, w)
	require.Len(t, insts, 1)
	return insts[0]
}

func TestHealthz(t *testing.T) {
	router := setupTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWindowEndpoints(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/window", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, w).Code)

	seedCentre(t, router)

	w = doJSON(t, router, http.MethodGet, "/v1/window", nil)
	require.Equal(t, http.StatusOK, w.Code)
	win := decode[model.Window](t, w)
	assert.Equal(t, 2, win.Weeks)

	w = doJSON(t, router, http.MethodPut, "/v1/window", gin.H{"weeks": 17})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPut, "/v1/window", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPut, "/v1/window", gin.H{"weeks": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[lifecycle.WindowResult](t, w)
	assert.Equal(t, 3, res.Window.Weeks)
	// 29 Oct to 5 Nov adds Monday 2nd and Wednesday 4th.
	assert.Equal(t, 2, res.Projection.Created)

	w = doJSON(t, router, http.MethodPost, "/v1/window/reproject?full=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/v1/window/roll", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestInstanceEndpoints(t *testing.T) {
	router := setupTestRouter(t)
	seedCentre(t, router)
	inst := firstInstance(t, router)
	require.NotNil(t, inst.Shortfall)
	assert.False(t, inst.Shortfall.Any())

	w := doJSON(t, router, http.MethodGet, "/v1/instances/"+inst.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, inst.ID, decode[model.Instance](t, w).ID)

	w = doJSON(t, router, http.MethodGet, "/v1/instances/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/instances?start=2026-10-19", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(t, router, http.MethodGet, "/v1/instances?start=19/10/2026&end=2026-10-20", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPatch, "/v1/instances/"+inst.ID, gin.H{"venue_id": "hall"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	edited := decode[model.Instance](t, w)
	assert.Equal(t, "hall", edited.VenueID)
	assert.True(t, edited.IsOverridden)

	w = doJSON(t, router, http.MethodPatch, "/v1/instances/"+inst.ID, gin.H{"start": "25:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/v1/instances/"+inst.ID+"/override", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "studio", decode[model.Instance](t, w).VenueID)

	for _, path := range []string{"participants", "staff", "vehicles", "reoptimize"} {
		w = doJSON(t, router, http.MethodPost, "/v1/instances/"+inst.ID+"/"+path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestEventEndpoints(t *testing.T) {
	router := setupTestRouter(t)
	seedCentre(t, router)
	inst := firstInstance(t, router)
	attID := inst.Attendance[0].ID
	shiftID := inst.Staff[0].ID

	w := doJSON(t, router, http.MethodPost, "/v1/attendance/"+attID+"/cancel", gin.H{"type": "whenever"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/attendance/"+attID+"/cancel", gin.H{"type": "normal"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cres := decode[events.CancellationResult](t, w)
	assert.Equal(t, model.AttendanceCancelled, cres.Attendance.Status)
	assert.Equal(t, model.CancelNormal, cres.Attendance.CancellationType)

	w = doJSON(t, router, http.MethodPost, "/v1/attendance/"+attID+"/cancel", gin.H{"type": "normal"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPut, "/v1/attendance/"+inst.Attendance[1].ID+"/status", gin.H{"status": "no_show"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.AttendanceNoShow, decode[model.Attendance](t, w).Status)

	// Nobody can cover alice: still a 200, flagged for attention.
	w = doJSON(t, router, http.MethodPost, "/v1/shifts/"+shiftID+"/sick", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sres := decode[events.SicknessResult](t, w)
	assert.True(t, sres.NeedsAttention)
	assert.Nil(t, sres.Substitute)
}

func TestPaymentEndpoints(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/v1/payments?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/payments/billed", gin.H{"ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/payments/billed", gin.H{"ids": []string{"missing"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportRules_Rejects(t *testing.T) {
	router := setupTestRouter(t)

	w := do(t, router, http.MethodPost, "/v1/rules", "text/plain", []byte("rules: []"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/v1/rules", "application/json", []byte(`{"rulez": []}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad, err := os.ReadFile(filepath.Join("..", "rulefile", "testdata", "bad_slot.yaml"))
	require.NoError(t, err)
	w = do(t, router, http.MethodPost, "/v1/rules", "application/yaml", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", decode[ErrorResponse](t, w).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupTestRouter(t)
	seedCentre(t, router)

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `loom_projection_instances_total{outcome="created"} 3`)
}
