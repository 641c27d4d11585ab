package bank

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubebank/internal/errs"
	"tubebank/internal/geo"
	"tubebank/internal/plan"
	"tubebank/internal/weapon"
)

func fastBank() *Bank {
	wr := weapon.NewRegistry()
	fast := weapon.Specification{Name: "fast", PowerOnTime: 5 * time.Millisecond,
		LaunchSteps: []weapon.LaunchStep{{Description: "s", Duration: 5 * time.Millisecond}}}
	for _, k := range []weapon.Kind{weapon.KindALM, weapon.KindASM, weapon.KindAAM, weapon.KindWGT, weapon.KindMMINE, weapon.KindNA} {
		wr.SetSpecification(k, fast)
	}
	return New(wr, plan.NewRegistry())
}

func TestAssignRejectsInvalidTubeNumber(t *testing.T) {
	b := fastBank()
	_, err := b.Assign(0, weapon.KindALM, plan.Assignment{})
	assert.ErrorIs(t, err, errs.ErrInvalidTube)
	_, err = b.Assign(7, weapon.KindALM, plan.Assignment{})
	assert.ErrorIs(t, err, errs.ErrInvalidTube)
}

func TestAssignRejectsUnsupportedKind(t *testing.T) {
	b := fastBank()
	_, err := b.Assign(1, weapon.Kind("BOGUS"), plan.Assignment{})
	assert.ErrorIs(t, err, errs.ErrUnsupportedKind)
}

func TestAssignThenDoubleAssignFails(t *testing.T) {
	b := fastBank()
	ok, err := b.Assign(1, weapon.KindMMINE, plan.Assignment{})
	require.NoError(t, err)
	require.True(t, ok)

	st, err := b.Status(1)
	require.NoError(t, err)
	assert.Equal(t, weapon.KindMMINE, st.Kind)
	assert.Equal(t, weapon.Off, st.Weapon)

	_, err = b.Assign(1, weapon.KindALM, plan.Assignment{})
	assert.ErrorIs(t, err, errs.ErrAlreadyAssigned)
}

func TestAssignUnassignRoundTripReturnsToEmpty(t *testing.T) {
	b := fastBank()
	_, err := b.Assign(2, weapon.KindALM, plan.Assignment{})
	require.NoError(t, err)

	ok, err := b.Unassign(2)
	require.NoError(t, err)
	require.True(t, ok)

	st, err := b.Status(2)
	require.NoError(t, err)
	assert.Equal(t, 0, int(st.State))
	assert.Empty(t, st.Kind)
}

func TestEmergencyStopKeepsAssignmentAndStopsBothTubes(t *testing.T) {
	b := fastBank()
	var assignmentChanges int
	var mu sync.Mutex
	b.SetCallbacks(nil, nil, nil, func(tubeNum int, kind weapon.Kind, assigned bool) {
		mu.Lock()
		assignmentChanges++
		mu.Unlock()
	})

	_, err := b.Assign(1, weapon.KindMMINE, plan.Assignment{})
	require.NoError(t, err)
	_, err = b.Assign(2, weapon.KindALM, plan.Assignment{})
	require.NoError(t, err)

	ok1, _ := b.RequestState(1, weapon.On)
	ok2, _ := b.RequestState(2, weapon.On)
	require.True(t, ok1)
	require.True(t, ok2)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s1, _ := b.Status(1)
		s2, _ := b.Status(2)
		if s1.Weapon == weapon.On && s2.Weapon == weapon.On {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ok, err := b.EmergencyStop()
	require.NoError(t, err)
	assert.True(t, ok)

	s1, _ := b.Status(1)
	s2, _ := b.Status(2)
	assert.Equal(t, weapon.Off, s1.Weapon)
	assert.Equal(t, weapon.Off, s2.Weapon)
	assert.Equal(t, 2, assignmentChanges, "assignment must be preserved across emergency-stop")
}

func TestBroadcastUpdatesReachAssignedTubesOnly(t *testing.T) {
	b := fastBank()
	_, err := b.Assign(1, weapon.KindALM, plan.Assignment{})
	require.NoError(t, err)

	b.SetAxisCenter(geo.Point2D{LatDeg: 5, LonDeg: 5})
	b.UpdateOwnShip(plan.OwnShipInfo{Position: geo.Point3D{Point2D: geo.Point2D{LatDeg: 5, LonDeg: 5}}})
	b.UpdateTarget(plan.TargetInfo{ID: "trk-1", Position: geo.Point3D{Point2D: geo.Point2D{LatDeg: 5.5, LonDeg: 5.5}}})

	err = b.UpdateWaypointsFromMessage(1, []plan.Waypoint{
		{Point: geo.Point3D{Point2D: geo.Point2D{LatDeg: 5.1, LonDeg: 5.1}}, ArrivalT: time.Second},
		{Point: geo.Point3D{Point2D: geo.Point2D{LatDeg: 999}}}, // filtered out
	})
	require.NoError(t, err)

	ok, err := b.ComputePlan(1)
	require.NoError(t, err)
	assert.True(t, ok)

	// tube 2 is unassigned, so it must report no valid plan.
	res, _ := b.Result(2)
	assert.False(t, res.Valid)
}

func TestAssignedCountAndReadyCount(t *testing.T) {
	b := fastBank()
	_, _ = b.Assign(1, weapon.KindALM, plan.Assignment{})
	_, _ = b.Assign(2, weapon.KindASM, plan.Assignment{})
	assert.Equal(t, 2, b.AssignedCount())
	assert.Equal(t, 0, b.ReadyCount())
}
