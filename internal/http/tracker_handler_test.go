package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"registro-pacientes/internal/config"
	"registro-pacientes/internal/metrics"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/repository"
	"registro-pacientes/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiResult struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.Tracker.ID = "default"
	cfg.Tracker.Timezone = "UTC"
	cfg.Tracker.Locale = "es"
	cfg.Tracker.TaskTypes = models.DefaultTaskCatalog()
	cfg.Local.Mode = config.LocalMemory
	cfg.Remote.Mode = config.RemoteNone

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	m := metrics.New(nil)
	svc, err := service.NewTrackerService(cfg, service.Dependencies{
		Local:   repository.NewMemorySnapshotRepository(),
		Metrics: m,
		Clock:   clock,
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	router := NewRouter(zap.NewNop(), m)
	router.RegisterTrackerRoutes(NewTrackerHandler(svc, zap.NewNop()))
	router.RegisterOpsRoutes()
	return router
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, apiResult) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var res apiResult
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &res)
	}
	return rec, res
}

func createPatient(t *testing.T, h http.Handler, cohort, name string) string {
	t.Helper()
	rec, res := do(t, h, http.MethodPost, APIPrefix+"/patients/"+cohort, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &p))
	return p.ID
}

func TestCreatePatient_Validation(t *testing.T) {
	h := setupRouter(t)

	rec, res := do(t, h, http.MethodPost, APIPrefix+"/patients/cait", map[string]string{"name": "Ana"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, ResultSuccess, res.Code)

	rec, res = do(t, h, http.MethodPost, APIPrefix+"/patients/cait", map[string]string{"name": " ana "})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ResultError, res.Code)

	// 不同队列可以重名
	rec, _ = do(t, h, http.MethodPost, APIPrefix+"/patients/private", map[string]string{"name": "Ana"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = do(t, h, http.MethodPost, APIPrefix+"/patients/private", map[string]string{"name": "B"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, APIPrefix+"/patients/private", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClinicTasksAndSummary(t *testing.T) {
	h := setupRouter(t)
	id := createPatient(t, h, "cait", "Ana")
	createPatient(t, h, "cait", "Bruno")

	rec, _ := do(t, h, http.MethodPut, APIPrefix+"/patients/cait/"+id+"/tasks/piat", map[string]string{"date": "2023-11-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = do(t, h, http.MethodPut, APIPrefix+"/patients/cait/"+id+"/tasks/XYZ", map[string]string{"date": "2023-11-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPut, APIPrefix+"/patients/cait/"+id+"/tasks/ENT", map[string]string{"date": "2023-13-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPut, APIPrefix+"/patients/cait/missing/tasks/ENT", map[string]string{"date": "2024-01-01"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, res := do(t, h, http.MethodGet, APIPrefix+"/summary?bucket=overdue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Today string `json:"today"`
		Due   []struct {
			PatientName string `json:"patientName"`
			Kind        string `json:"kind"`
			Due         string `json:"due"`
		} `json:"due"`
		Stats struct {
			ClinicPatients int `json:"clinicPatients"`
			Overdue        int `json:"overdue"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &sum))
	assert.Equal(t, "2024-06-01", sum.Today)
	require.Len(t, sum.Due, 1)
	assert.Equal(t, "Ana", sum.Due[0].PatientName)
	assert.Equal(t, "PIAT", sum.Due[0].Kind)
	assert.Equal(t, "2024-05-01", sum.Due[0].Due)
	assert.Equal(t, 2, sum.Stats.ClinicPatients)
	assert.Equal(t, 1, sum.Stats.Overdue)

	// 清除日期
	rec, _ = do(t, h, http.MethodPut, APIPrefix+"/patients/cait/"+id+"/tasks/PIAT", map[string]any{"date": nil})
	assert.Equal(t, http.StatusOK, rec.Code)
	_, res = do(t, h, http.MethodGet, APIPrefix+"/summary?bucket=overdue", nil)
	require.NoError(t, json.Unmarshal(res.Result, &sum))
	assert.Empty(t, sum.Due)
}

func TestSummary_InvalidQuery(t *testing.T) {
	h := setupRouter(t)
	for _, q := range []string{"bucket=late", "cohort=public", "status=soon", "month=2024-13"} {
		rec, res := do(t, h, http.MethodGet, APIPrefix+"/summary?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "error", res.Type, q)
	}
}

func TestPrivateLedger(t *testing.T) {
	h := setupRouter(t)
	id := createPatient(t, h, "private", "Berta")

	base := APIPrefix + "/patients/private/" + id + "/ledger"
	rec, _ := do(t, h, http.MethodPost, base+"/consume", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, base, map[string]any{"date": "2024-02-01", "count": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, res := do(t, h, http.MethodPost, base, map[string]any{"date": "2024-01-01"})
	require.Equal(t, http.StatusOK, rec.Code)

	var l struct {
		Ledger []struct {
			Date  string `json:"date"`
			Count int    `json:"count"`
		} `json:"ledger"`
		Pending  int `json:"pending"`
		Consumed int `json:"consumed"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &l))
	require.Len(t, l.Ledger, 2)
	assert.Equal(t, "2024-01-01", l.Ledger[0].Date)
	assert.Equal(t, 3, l.Pending)

	rec, _ = do(t, h, http.MethodPost, base, map[string]any{"date": "2024-01-01", "count": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, res = do(t, h, http.MethodPost, base+"/consume", map[string]int{"amount": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(res.Result, &l))
	assert.Equal(t, 2, l.Consumed)
	assert.Equal(t, 1, l.Pending)
	require.Len(t, l.Ledger, 1)
	assert.Equal(t, "2024-02-01", l.Ledger[0].Date)

	rec, res = do(t, h, http.MethodGet, APIPrefix+"/patients/private", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []struct {
		Name       string `json:"name"`
		Pending    int    `json:"pending"`
		OldestDate string `json:"oldestDate"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Pending)
	assert.Equal(t, "2024-02-01", list[0].OldestDate)
}

func TestPrivateLedger_RejectsCountOverflow(t *testing.T) {
	h := setupRouter(t)
	id := createPatient(t, h, "private", "Berta")
	base := APIPrefix + "/patients/private/" + id + "/ledger"

	rec, _ := do(t, h, http.MethodPost, base, map[string]any{"date": "2024-01-01", "count": math.MaxInt})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, res := do(t, h, http.MethodPost, base, map[string]any{"date": "2024-01-01", "count": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, res.Message, "out of range")
}

func TestUpdateAndDeletePatient(t *testing.T) {
	h := setupRouter(t)
	id := createPatient(t, h, "cait", "Ana")
	createPatient(t, h, "cait", "Bruno")

	rec, res := do(t, h, http.MethodPut, APIPrefix+"/patients/cait/"+id, map[string]string{"name": "Ana María", "notes": "revisar"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p struct {
		Name  string `json:"name"`
		Notes string `json:"notes"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &p))
	assert.Equal(t, "Ana María", p.Name)
	assert.Equal(t, "revisar", p.Notes)

	rec, _ = do(t, h, http.MethodPut, APIPrefix+"/patients/cait/"+id, map[string]string{"name": "bruno"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, h, http.MethodPut, APIPrefix+"/patients/cait/"+id, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, APIPrefix+"/patients/cait/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodDelete, APIPrefix+"/patients/cait/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, APIPrefix+"/patients/public/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, h, http.MethodPatch, APIPrefix+"/patients/cait/"+id, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExportImportRoundTrip(t *testing.T) {
	h := setupRouter(t)
	createPatient(t, h, "cait", "Ana")
	createPatient(t, h, "private", "Berta")

	rec, _ := do(t, h, http.MethodGet, APIPrefix+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "registro-pacientes-2024-06-01.json")
	exported := rec.Body.String()
	assert.Contains(t, exported, `"clinicPatients"`)

	other := setupRouter(t)
	rec, res := do(t, other, http.MethodPost, APIPrefix+"/import", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"clinicPatients":1,"privatePatients":1}`, string(res.Result))

	rec, _ = do(t, other, http.MethodPost, APIPrefix+"/import", "not a document")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 同队列重名：整体拒绝
	dup := `{"clinicPatients":[{"id":"a","name":"Ana"},{"id":"b","name":"ANA"}],"privatePatients":[]}`
	rec, _ = do(t, other, http.MethodPost, APIPrefix+"/import", dup)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, res = do(t, other, http.MethodGet, APIPrefix+"/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(res.Result), `"name":"Berta"`)
}

func TestExportReport(t *testing.T) {
	h := setupRouter(t)
	createPatient(t, h, "cait", "Ana")

	rec, _ := do(t, h, http.MethodGet, APIPrefix+"/export/report.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestOpsRoutes(t *testing.T) {
	h := setupRouter(t)

	rec, res := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, res.Code)

	do(t, h, http.MethodGet, APIPrefix+"/state", nil)
	rec, _ = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/tracker/api/v1/state",status_code="200"} 1`)

	rec, _ = do(t, h, http.MethodPost, APIPrefix+"/state", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
