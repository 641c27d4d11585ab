package mineplan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubebank/internal/geo"
)

func validPlan(number uint32) Plan {
	return Plan{Number: number, Waypoints: []geo.Point3D{
		{Point2D: geo.Point2D{LatDeg: 10, LonDeg: 20}, DepthM: 5},
	}}
}

func TestPlanValidateRejectsZeroNumber(t *testing.T) {
	p := validPlan(0)
	assert.Error(t, p.Validate())
}

func TestPlanValidateRejectsEmptyWaypoints(t *testing.T) {
	p := Plan{Number: 1}
	assert.Error(t, p.Validate())
}

func TestPlanValidateRejectsOutOfBoundsWaypoint(t *testing.T) {
	p := Plan{Number: 1, Waypoints: []geo.Point3D{{Point2D: geo.Point2D{LatDeg: 999}}}}
	assert.Error(t, p.Validate())
}

func TestPlanListValidateRejectsOverMaxPlans(t *testing.T) {
	list := PlanList{Number: 1}
	for i := uint32(1); i <= MaxPlansPerList+1; i++ {
		list.Plans = append(list.Plans, validPlan(i))
	}
	assert.Error(t, list.Validate())
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mine_plans")
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	list := PlanList{Number: 3, Plans: []Plan{validPlan(1), validPlan(2)}}
	require.NoError(t, store.Save(list))

	got, err := store.Load(3)
	require.NoError(t, err)
	assert.Equal(t, list.Number, got.Number)
	require.Len(t, got.Plans, 2)
	assert.Equal(t, list.Plans[0].Number, got.Plans[0].Number)
	assert.InDelta(t, list.Plans[0].Waypoints[0].LatDeg, got.Plans[0].Waypoints[0].LatDeg, 1e-9)
}

func TestFileStoreSaveRejectsInvalidList(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	err = store.Save(PlanList{Number: 0})
	assert.Error(t, err)
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	assert.NoError(t, store.Delete(42))

	list := PlanList{Number: 42, Plans: []Plan{validPlan(1)}}
	require.NoError(t, store.Save(list))
	assert.NoError(t, store.Delete(42))
	_, err = store.Load(42)
	assert.Error(t, err)
}

func TestFileStoreAvailableListNumbersSorted(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(PlanList{Number: 5, Plans: []Plan{validPlan(1)}}))
	require.NoError(t, store.Save(PlanList{Number: 2, Plans: []Plan{validPlan(1)}}))

	nums, err := store.AvailableListNumbers()
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 5}, nums)
}
