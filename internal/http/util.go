package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"registro-pacientes/internal/tracker"
)

// maxBodyBytes 普通请求体上限；导入文档另有更大的上限
const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 10 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// writeError 将领域错误映射为 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrPatientNotFound):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	case errors.Is(err, tracker.ErrDuplicateName):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	case errors.Is(err, tracker.ErrNameTooShort),
		errors.Is(err, tracker.ErrUnknownTaskType),
		errors.Is(err, tracker.ErrInvalidCount),
		errors.Is(err, tracker.ErrEmptyLedger),
		errors.Is(err, tracker.ErrCountOverflow),
		errors.Is(err, tracker.ErrInvalidCohort):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
}

// statusRecorder 记录响应状态码（用于请求指标）
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
