package summary

import (
	"testing"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/ranking"
	"registro-pacientes/internal/recurrence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datePtr(s string) *calendar.Date {
	d := calendar.MustParse(s)
	return &d
}

func fixtureState() models.TrackerState {
	return models.TrackerState{
		ClinicPatients: []models.ClinicPatient{
			{ID: "c", Name: "Carla", LastByTaskType: map[models.TaskType]*calendar.Date{
				"PIAT": datePtr("2024-03-01"), "ENT": datePtr("2024-06-01"), "FAM": datePtr("2024-05-15"),
			}},
			{ID: "b", Name: "Beto", LastByTaskType: map[models.TaskType]*calendar.Date{
				"PIAT": datePtr("2023-12-01"), "ENT": datePtr("2024-06-05"), "FAM": datePtr("2024-05-01"),
			}},
			{ID: "a", Name: "Ana", LastByTaskType: map[models.TaskType]*calendar.Date{
				"PIAT": nil, "ENT": datePtr("2024-05-20"), "FAM": datePtr("2024-04-01"),
			}},
		},
		PrivatePatients: []models.PrivatePatient{
			{ID: "m", Name: "Marta", Ledger: []models.LedgerEntry{}},
			{ID: "l", Name: "Luis", Ledger: []models.LedgerEntry{{Date: calendar.MustParse("2024-05-01"), Count: 2}}},
		},
	}
}

func build(filter Filter) Summary {
	eval := ranking.NewEvaluation(calendar.MustParse("2024-06-10"), calendar.YearMonth{})
	return Build(fixtureState(), models.DefaultTaskCatalog(), eval, "es", filter)
}

func rowNames(rows []ClinicRow) []string {
	out := []string{}
	for _, r := range rows {
		out = append(out, r.Name)
	}
	return out
}

func itemKeys(items []DueItem) []string {
	out := []string{}
	for _, it := range items {
		out = append(out, it.PatientName+"/"+it.Kind)
	}
	return out
}

func TestBuild_GroupsAndOrdering(t *testing.T) {
	s := build(Filter{})

	assert.Equal(t, "2024-06", s.Month)
	assert.Equal(t, []string{"Ana", "Beto"}, rowNames(s.ClinicAttention))
	assert.Equal(t, []string{"Carla"}, rowNames(s.ClinicUpToDate))
	assert.Equal(t, StatusThisMonth, s.ClinicAttention[0].Status)
	assert.Equal(t, StatusOverdue, s.ClinicAttention[1].Status)
	assert.Equal(t, StatusUpToDate, s.ClinicUpToDate[0].Status)

	require.Len(t, s.PrivatePending, 1)
	luis := s.PrivatePending[0]
	assert.Equal(t, "Luis", luis.Name)
	assert.Equal(t, 2, luis.Pending)
	assert.Equal(t, StatusOverdue, luis.Status)
	assert.Equal(t, "01/05/2024: 2", luis.Detail)

	assert.Equal(t, []string{
		"Luis/RECUP",
		"Beto/PIAT",
		"Ana/ENT",
		"Carla/ENT",
		"Ana/FAM",
		"Beto/ENT",
		"Beto/FAM",
		"Carla/FAM",
		"Carla/PIAT",
	}, itemKeys(s.Due))
	assert.Equal(t, []string{"Ana/PIAT"}, itemKeys(s.NoDate))
	assert.Equal(t, recurrence.BucketUnknown, s.NoDate[0].Status.Bucket)

	assert.Equal(t, Stats{
		ClinicPatients:  3,
		PrivatePatients: 2,
		Overdue:         2,
		Upcoming:        1,
		PendingSessions: 2,
	}, s.Stats)
}

func TestBuild_StatusFilter(t *testing.T) {
	s := build(Filter{Status: StatusOverdue})

	assert.Equal(t, []string{"Beto"}, rowNames(s.ClinicAttention))
	assert.Empty(t, s.ClinicUpToDate)
	require.Len(t, s.PrivatePending, 1)
	assert.Equal(t, []string{"Luis/RECUP", "Beto/PIAT", "Beto/ENT", "Beto/FAM"}, itemKeys(s.Due))
	assert.Empty(t, s.NoDate)

	// 统计不受筛选影响
	assert.Equal(t, 2, s.Stats.Overdue)
}

func TestBuild_QueryAndCohortCompose(t *testing.T) {
	s := build(Filter{Query: "AR", Cohort: models.CohortClinic})

	assert.Empty(t, s.ClinicAttention)
	assert.Equal(t, []string{"Carla"}, rowNames(s.ClinicUpToDate))
	assert.Empty(t, s.PrivatePending, "Marta is private and has no balance")
	assert.Equal(t, []string{"Carla/ENT", "Carla/FAM", "Carla/PIAT"}, itemKeys(s.Due))
}

func TestBuild_BucketFilter(t *testing.T) {
	s := build(Filter{Buckets: []recurrence.Bucket{recurrence.BucketUnknown}})

	assert.Equal(t, []string{"Ana"}, rowNames(s.ClinicAttention))
	assert.Empty(t, s.ClinicUpToDate)
	assert.Empty(t, s.PrivatePending)
	assert.Empty(t, s.Due)
	assert.Equal(t, []string{"Ana/PIAT"}, itemKeys(s.NoDate))

	s = build(Filter{Buckets: []recurrence.Bucket{recurrence.BucketDueSoon}})
	assert.Equal(t, []string{"Ana/ENT"}, itemKeys(s.Due))
}

func TestBuild_DoesNotMutateState(t *testing.T) {
	state := fixtureState()
	eval := ranking.NewEvaluation(calendar.MustParse("2024-06-10"), calendar.YearMonth{})
	_ = Build(state, models.DefaultTaskCatalog(), eval, "es", Filter{Query: "a"})

	assert.Equal(t, fixtureState(), state)
}

func TestBuild_EvaluationMonth(t *testing.T) {
	month, err := calendar.ParseYearMonth("2024-07")
	require.NoError(t, err)
	eval := ranking.NewEvaluation(calendar.MustParse("2024-06-10"), month)
	s := Build(fixtureState(), models.DefaultTaskCatalog(), eval, "es", Filter{})

	// Carla 的 ENT 在 7 月到期，评估 7 月时需要处理
	assert.Equal(t, []string{"Ana", "Beto", "Carla"}, rowNames(s.ClinicAttention))
	assert.Empty(t, s.ClinicUpToDate)
}

func TestParsePatientStatus(t *testing.T) {
	st, ok := ParsePatientStatus("this_month")
	assert.True(t, ok)
	assert.Equal(t, StatusThisMonth, st)

	_, ok = ParsePatientStatus("atraso")
	assert.False(t, ok)
}
