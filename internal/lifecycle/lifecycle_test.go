package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydash/internal/models"
)

func TestNextStatuses(t *testing.T) {
	tests := []struct {
		from     models.Status
		want     []models.Status
		terminal bool
	}{
		{from: models.StatusReceived, want: []models.Status{models.StatusValidating}},
		{from: models.StatusValidating, want: []models.Status{models.StatusInvalid, models.StatusEnriching}},
		{from: models.StatusEnriching, want: []models.Status{models.StatusProcessing}},
		{from: models.StatusProcessing, want: []models.Status{models.StatusComplete}},
		{from: models.StatusInvalid, want: []models.Status{}, terminal: true},
		{from: models.StatusComplete, want: []models.Status{}, terminal: true},
	}
	require.Len(t, tests, len(models.Statuses))
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, NextStatuses(tt.from))
			assert.Equal(t, tt.terminal, IsTerminal(tt.from))
		})
	}
}

func TestNextStatusesReturnsCopy(t *testing.T) {
	got := NextStatuses(models.StatusValidating)
	got[0] = models.StatusComplete
	assert.Equal(t, models.StatusInvalid, NextStatuses(models.StatusValidating)[0])
}

func TestOutcomeFor(t *testing.T) {
	for _, s := range models.Statuses {
		switch s {
		case models.StatusComplete:
			assert.Equal(t, models.OutcomeSuccess, OutcomeFor(s))
		case models.StatusInvalid:
			assert.Equal(t, models.OutcomeFailure, OutcomeFor(s))
		default:
			assert.Equal(t, models.OutcomeNone, OutcomeFor(s), s)
		}
	}
}

func TestAdvance(t *testing.T) {
	next, outcome, err := Advance(models.StatusReceived, func(int) int { t.Fatal("pick called with single candidate"); return 0 })
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidating, next)
	assert.Equal(t, models.OutcomeNone, outcome)

	next, outcome, err = Advance(models.StatusValidating, func(n int) int { return 0 })
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalid, next)
	assert.Equal(t, models.OutcomeFailure, outcome)

	next, _, err = Advance(models.StatusValidating, func(n int) int { return 1 })
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnriching, next)

	next, outcome, err = Advance(models.StatusProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, next)
	assert.Equal(t, models.OutcomeSuccess, outcome)

	_, _, err = Advance(models.StatusComplete, nil)
	assert.True(t, errors.Is(err, ErrTerminal))

	_, _, err = Advance("PAUSED", nil)
	assert.True(t, errors.Is(err, ErrUnknownStatus))
}

func TestValidWalk(t *testing.T) {
	assert.NoError(t, ValidWalk(nil))
	assert.NoError(t, ValidWalk([]models.Status{
		models.StatusReceived, models.StatusValidating, models.StatusEnriching,
		models.StatusProcessing, models.StatusComplete,
	}))
	assert.NoError(t, ValidWalk([]models.Status{models.StatusReceived, models.StatusValidating, models.StatusInvalid}))

	err := ValidWalk([]models.Status{models.StatusValidating})
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	err = ValidWalk([]models.Status{models.StatusReceived, models.StatusValidating, models.StatusInvalid, models.StatusEnriching})
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestTableCoversEveryStatus(t *testing.T) {
	table := Table()
	require.Len(t, table, len(models.Statuses))
	for i, e := range table {
		assert.Equal(t, models.Statuses[i], e.From)
		assert.NotNil(t, e.To)
	}
}
