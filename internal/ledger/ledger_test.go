package ledger

import (
	"math"
	"testing"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(date string, count int) models.LedgerEntry {
	return models.LedgerEntry{Date: calendar.MustParse(date), Count: count}
}

func TestAddCredit_MergesSameDate(t *testing.T) {
	var l []models.LedgerEntry

	l, ok := AddCredit(l, calendar.MustParse("2024-01-01"), 3)
	require.True(t, ok)
	l, ok = AddCredit(l, calendar.MustParse("2024-01-01"), 2)
	require.True(t, ok)

	assert.Equal(t, []models.LedgerEntry{entry("2024-01-01", 5)}, l)
	assert.Equal(t, 5, PendingTotal(l))
}

func TestAddCredit_KeepsSortedAndRejectsNonPositive(t *testing.T) {
	l := []models.LedgerEntry{entry("2024-03-01", 1)}

	l, ok := AddCredit(l, calendar.MustParse("2024-01-15"), 2)
	require.True(t, ok)
	assert.Equal(t, []models.LedgerEntry{entry("2024-01-15", 2), entry("2024-03-01", 1)}, l)

	for _, count := range []int{0, -3} {
		out, ok := AddCredit(l, calendar.MustParse("2024-02-01"), count)
		assert.False(t, ok)
		assert.Equal(t, l, out)
	}
}

func TestAddCredit_DoesNotMutateInput(t *testing.T) {
	l := []models.LedgerEntry{entry("2024-01-01", 1)}
	_, _ = AddCredit(l, calendar.MustParse("2024-01-01"), 4)
	assert.Equal(t, 1, l[0].Count)
}

func TestConsumeOldest_SingleUnitSequence(t *testing.T) {
	l := []models.LedgerEntry{entry("2024-02-01", 2), entry("2024-01-01", 1)}

	l, n := ConsumeOldest(l, 1)
	assert.Equal(t, 1, n)
	assert.Equal(t, []models.LedgerEntry{entry("2024-02-01", 2)}, l)

	l, n = ConsumeOldest(l, 1)
	assert.Equal(t, 1, n)
	assert.Equal(t, []models.LedgerEntry{entry("2024-02-01", 1)}, l)

	l, n = ConsumeOldest(l, 1)
	assert.Equal(t, 1, n)
	assert.Empty(t, l)

	l, n = ConsumeOldest(l, 1)
	assert.Equal(t, 0, n)
	assert.Empty(t, l)
}

func TestConsumeOldest_CascadesIntoNextEntries(t *testing.T) {
	l := []models.LedgerEntry{entry("2024-01-01", 1), entry("2024-02-01", 2), entry("2024-03-01", 4)}

	out, n := ConsumeOldest(l, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, []models.LedgerEntry{entry("2024-03-01", 3)}, out)

	out, n = ConsumeOldest(l, 10)
	assert.Equal(t, 7, n)
	assert.Empty(t, out)

	out, n = ConsumeOldest(l, 0)
	assert.Equal(t, 0, n)
	assert.Equal(t, l, out)
}

func TestOldestDateAndDescribe(t *testing.T) {
	assert.Nil(t, OldestDate(nil))
	assert.Equal(t, "—", Describe(nil))

	l := []models.LedgerEntry{entry("2024-02-01", 2), entry("2024-01-05", 1)}
	oldest := OldestDate(l)
	require.NotNil(t, oldest)
	assert.Equal(t, "2024-01-05", oldest.String())
	assert.Equal(t, "05/01/2024: 1 · 01/02/2024: 2", Describe(l))
}

func TestNormalize(t *testing.T) {
	l := []models.LedgerEntry{
		entry("2024-02-01", 2),
		entry("2024-01-01", 0),
		entry("2024-02-01", 1),
		{Count: 3},
		entry("2023-12-24", 1),
	}
	assert.Equal(t, []models.LedgerEntry{entry("2023-12-24", 1), entry("2024-02-01", 3)}, Normalize(l))
	assert.Equal(t, []models.LedgerEntry{}, Normalize(nil))
}

func TestAddCredit_RejectsCountOverflow(t *testing.T) {
	d := calendar.MustParse("2024-01-01")
	l, ok := AddCredit(nil, d, math.MaxInt)
	require.True(t, ok)

	out, ok := AddCredit(l, d, 1)
	assert.False(t, ok)
	assert.Equal(t, l, out)
	assert.Equal(t, math.MaxInt, l[0].Count)

	// 其他日期另起一条，合计饱和
	l, ok = AddCredit(l, calendar.MustParse("2024-01-02"), 1)
	require.True(t, ok)
	require.Len(t, l, 2)
	assert.Equal(t, math.MaxInt, PendingTotal(l))
}

func TestNormalize_SaturatesOverflowingMerge(t *testing.T) {
	l := []models.LedgerEntry{entry("2024-01-01", math.MaxInt), entry("2024-01-01", 5), entry("2024-01-03", 1)}
	assert.Equal(t, []models.LedgerEntry{entry("2024-01-01", math.MaxInt), entry("2024-01-03", 1)}, Normalize(l))
}
