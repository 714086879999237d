package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/ledger"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/ranking"
	"registro-pacientes/internal/recurrence"
	"registro-pacientes/internal/report"
	"registro-pacientes/internal/service"
	"registro-pacientes/internal/snapshot"
	"registro-pacientes/internal/summary"

	"go.uber.org/zap"
)

// TrackerHandler 随访 API
type TrackerHandler struct {
	svc    *service.TrackerService
	logger *zap.Logger
}

func NewTrackerHandler(svc *service.TrackerService, logger *zap.Logger) *TrackerHandler {
	return &TrackerHandler{svc: svc, logger: logger}
}

// GetState 当前完整文档（与导出格式一致）
func (h *TrackerHandler) GetState(w http.ResponseWriter, r *http.Request) {
	doc := snapshot.ToDocument(h.svc.Store().Snapshot(), h.svc.Catalog())
	writeJSON(w, http.StatusOK, Ok(doc))
}

// GetSummary GET /summary?q=&cohort=&bucket=&status=&month=YYYY-MM
func (h *TrackerHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	filter, month, err := parseSummaryQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.svc.Summary(month, filter)))
}

func parseSummaryQuery(r *http.Request) (summary.Filter, calendar.YearMonth, error) {
	q := r.URL.Query()
	filter := summary.Filter{Query: q.Get("q")}
	var month calendar.YearMonth

	if c := q.Get("cohort"); c != "" {
		cohort := models.Cohort(strings.ToLower(c))
		if !cohort.Valid() {
			return filter, month, fmt.Errorf("invalid cohort: %s", c)
		}
		filter.Cohort = cohort
	}
	for _, raw := range q["bucket"] {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b == "" {
				continue
			}
			bucket, ok := recurrence.ParseBucket(b)
			if !ok {
				return filter, month, fmt.Errorf("invalid bucket: %s", b)
			}
			filter.Buckets = append(filter.Buckets, bucket)
		}
	}
	if s := q.Get("status"); s != "" {
		status, ok := summary.ParsePatientStatus(s)
		if !ok {
			return filter, month, fmt.Errorf("invalid status: %s", s)
		}
		filter.Status = status
	}
	if m := q.Get("month"); m != "" {
		parsed, err := calendar.ParseYearMonth(m)
		if err != nil {
			return filter, month, fmt.Errorf("invalid month: %s", m)
		}
		month = parsed
	}
	return filter, month, nil
}

// Export 下载原始文档（不包 Result）
func (h *TrackerHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := snapshot.Encode(h.svc.Store().Snapshot(), h.svc.Catalog())
	if err != nil {
		writeError(w, err)
		return
	}
	filename := fmt.Sprintf("registro-pacientes-%s.json", h.svc.Today())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ExportReport 下载 Excel 汇总
func (h *TrackerHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	sum := h.svc.Summary(calendar.YearMonth{}, summary.Filter{})
	data, err := report.Generate(sum, h.svc.Catalog())
	if err != nil {
		h.logger.Error("Failed to generate report", zap.Error(err))
		writeError(w, err)
		return
	}
	filename := fmt.Sprintf("registro-pacientes-%s.xlsx", h.svc.Today())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type importResult struct {
	ClinicPatients  int `json:"clinicPatients"`
	PrivatePatients int `json:"privatePatients"`
}

// Import 导入文档：无法解析或校验失败时整体拒绝
func (h *TrackerHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read body"))
		return
	}
	state, err := snapshot.Decode(body, h.svc.Catalog())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	imported, err := h.svc.Store().Import(state)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("Imported tracker document",
		zap.Int("clinic_patients", len(imported.ClinicPatients)),
		zap.Int("private_patients", len(imported.PrivatePatients)),
	)
	writeJSON(w, http.StatusOK, Ok(importResult{
		ClinicPatients:  len(imported.ClinicPatients),
		PrivatePatients: len(imported.PrivatePatients),
	}))
}

type createPatientRequest struct {
	Name string `json:"name"`
}

type clinicList struct {
	Attention []summary.ClinicRow `json:"attention"`
	UpToDate  []summary.ClinicRow `json:"upToDate"`
}

// ClinicPatients GET 排序后的 CAIT 患者 / POST 新增
func (h *TrackerHandler) ClinicPatients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sum := h.svc.Summary(calendar.YearMonth{}, summary.Filter{
			Query:  r.URL.Query().Get("q"),
			Cohort: models.CohortClinic,
		})
		writeJSON(w, http.StatusOK, Ok(clinicList{Attention: sum.ClinicAttention, UpToDate: sum.ClinicUpToDate}))
	case http.MethodPost:
		var req createPatientRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		p, err := h.svc.Store().AddClinicPatient(req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, Ok(p))
	default:
		methodNotAllowed(w)
	}
}

type privateView struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Notes      string                `json:"notes"`
	Ledger     []models.LedgerEntry  `json:"ledger"`
	Pending    int                   `json:"pending"`
	OldestDate *calendar.Date        `json:"oldestDate"`
	Status     recurrence.TaskStatus `json:"status"`
}

// PrivatePatients GET 排序后的私人患者（含空账本）/ POST 新增
func (h *TrackerHandler) PrivatePatients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
		ranked := ranking.RankPrivate(h.svc.Store().Snapshot().PrivatePatients, h.svc.Today(), h.svc.Locale())
		out := make([]privateView, 0, len(ranked))
		for _, rp := range ranked {
			if q != "" && !strings.Contains(strings.ToLower(rp.Patient.Name), q) {
				continue
			}
			out = append(out, privateView{
				ID:         rp.Patient.ID,
				Name:       rp.Patient.Name,
				Notes:      rp.Patient.Notes,
				Ledger:     rp.Patient.Ledger,
				Pending:    rp.Pending,
				OldestDate: rp.OldestDate,
				Status:     rp.Status,
			})
		}
		writeJSON(w, http.StatusOK, Ok(out))
	case http.MethodPost:
		var req createPatientRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		p, err := h.svc.Store().AddPrivatePatient(req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, Ok(p))
	default:
		methodNotAllowed(w)
	}
}

// PatientRoutes patients/{cohort}/{id}[/tasks/{type} | /ledger | /ledger/consume]
func (h *TrackerHandler) PatientRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, APIPrefix+"/patients/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] == "" {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	cohort := models.Cohort(parts[0])
	if !cohort.Valid() {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	id := parts[1]

	switch {
	case len(parts) == 2:
		switch r.Method {
		case http.MethodPut:
			h.updatePatient(w, r, cohort, id)
		case http.MethodDelete:
			h.deletePatient(w, cohort, id)
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 4 && cohort == models.CohortClinic && parts[2] == "tasks":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		h.setLastPerformed(w, r, id, models.TaskType(parts[3]))
	case len(parts) == 3 && cohort == models.CohortPrivate && parts[2] == "ledger":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.addCredit(w, r, id)
	case len(parts) == 4 && cohort == models.CohortPrivate && parts[2] == "ledger" && parts[3] == "consume":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.consumeOldest(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

type updatePatientRequest struct {
	Name  *string `json:"name"`
	Notes *string `json:"notes"`
}

func (h *TrackerHandler) updatePatient(w http.ResponseWriter, r *http.Request, cohort models.Cohort, id string) {
	var req updatePatientRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.Name == nil && req.Notes == nil {
		writeJSON(w, http.StatusBadRequest, Fail("name or notes is required"))
		return
	}
	store := h.svc.Store()
	if req.Name != nil {
		if err := store.RenamePatient(cohort, id, *req.Name); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Notes != nil {
		if err := store.SetNotes(cohort, id, *req.Notes); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, Ok(h.findPatient(cohort, id)))
}

func (h *TrackerHandler) deletePatient(w http.ResponseWriter, cohort models.Cohort, id string) {
	if err := h.svc.Store().DeletePatient(cohort, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
}

type setTaskRequest struct {
	Date *string `json:"date"`
}

func (h *TrackerHandler) setLastPerformed(w http.ResponseWriter, r *http.Request, id string, taskType models.TaskType) {
	var req setTaskRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	var date *calendar.Date
	if req.Date != nil {
		d, err := calendar.ParsePtr(*req.Date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		date = d
	}
	if err := h.svc.Store().SetLastPerformed(id, taskType, date); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.findPatient(models.CohortClinic, id)))
}

type ledgerResult struct {
	Ledger   []models.LedgerEntry `json:"ledger"`
	Pending  int                  `json:"pending"`
	Consumed int                  `json:"consumed,omitempty"`
}

type addCreditRequest struct {
	Date  string `json:"date"`
	Count *int   `json:"count"`
}

func (h *TrackerHandler) addCredit(w http.ResponseWriter, r *http.Request, id string) {
	var req addCreditRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	date, err := calendar.Parse(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	count := 1
	if req.Count != nil {
		count = *req.Count
	}
	l, err := h.svc.Store().AddCredit(id, date, count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(ledgerResult{Ledger: l, Pending: ledger.PendingTotal(l)}))
}

type consumeRequest struct {
	Amount *int `json:"amount"`
}

func (h *TrackerHandler) consumeOldest(w http.ResponseWriter, r *http.Request, id string) {
	var req consumeRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}
	l, consumed, err := h.svc.Store().ConsumeOldest(id, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(ledgerResult{Ledger: l, Pending: ledger.PendingTotal(l), Consumed: consumed}))
}

// findPatient 修改后回读患者；不存在时返回 nil
func (h *TrackerHandler) findPatient(cohort models.Cohort, id string) any {
	st := h.svc.Store().Snapshot()
	if cohort == models.CohortClinic {
		for _, p := range st.ClinicPatients {
			if p.ID == id {
				return p
			}
		}
		return nil
	}
	for _, p := range st.PrivatePatients {
		if p.ID == id {
			return p
		}
	}
	return nil
}
