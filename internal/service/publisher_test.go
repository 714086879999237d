package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"registro-pacientes/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func snapshotAt(name string, ts time.Time) models.TrackerState {
	st := models.NewTrackerState()
	st.PrivatePatients = append(st.PrivatePatients, models.PrivatePatient{ID: name, Name: name})
	st.LastUpdatedAt = &ts
	return st
}

func TestSnapshotPublisher_DropsOlderSnapshots(t *testing.T) {
	rs := &MockSnapshotStore{}
	published := make(chan models.TrackerState, 4)
	rs.On("Publish", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		published <- args.Get(1).(models.TrackerState)
	})

	t1 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	p := newSnapshotPublisher(rs, time.Second, func(error) {})

	// T1 在 T2 之后到达
	assert.True(t, p.enqueue(snapshotAt("T2", t2)))
	assert.False(t, p.enqueue(snapshotAt("T1", t1)))

	p.start()
	require.NoError(t, p.close(context.Background()))
	assert.False(t, p.enqueue(snapshotAt("T1", t1)))

	rs.AssertNumberOfCalls(t, "Publish", 1)
	st := <-published
	assert.Equal(t, "T2", st.PrivatePatients[0].Name)
}

func TestSnapshotPublisher_PublishesInOrder(t *testing.T) {
	rs := &MockSnapshotStore{}
	published := make(chan models.TrackerState, 4)
	rs.On("Publish", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		published <- args.Get(1).(models.TrackerState)
	})

	p := newSnapshotPublisher(rs, time.Second, func(error) {})
	p.start()
	defer p.close(context.Background())

	t1 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var names []string
	for i, name := range []string{"A", "B", "C"} {
		require.True(t, p.enqueue(snapshotAt(name, t1.Add(time.Duration(i)*time.Second))))
		select {
		case st := <-published:
			names = append(names, st.PrivatePatients[0].Name)
		case <-time.After(2 * time.Second):
			t.Fatalf("snapshot %s not published", name)
		}
	}
	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestSnapshotPublisher_ReportsErrors(t *testing.T) {
	rs := &MockSnapshotStore{}
	rs.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	errs := make(chan error, 1)
	p := newSnapshotPublisher(rs, time.Second, func(err error) { errs <- err })
	p.start()

	require.True(t, p.enqueue(snapshotAt("A", time.Now())))
	require.NoError(t, p.close(context.Background()))
	select {
	case err := <-errs:
		assert.EqualError(t, err, "broker down")
	default:
		t.Fatal("publish error not reported")
	}
}

func TestOlderThan(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	assert.False(t, olderThan(&t1, nil))
	assert.False(t, olderThan(nil, nil))
	assert.True(t, olderThan(nil, &t1))
	assert.True(t, olderThan(&t1, &t2))
	assert.False(t, olderThan(&t2, &t1))
	assert.False(t, olderThan(&t1, &t1))
}
