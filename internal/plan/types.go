// Package plan implements the per-kind engagement planner (spec.md §4.2):
// given own-ship/target telemetry and an editable waypoint list, compute a
// trajectory, waypoint arrival timing, and launch/drop points, then track
// weapon position post-launch by linear interpolation.
package plan

import (
	"time"

	"tubebank/internal/geo"
	"tubebank/internal/weapon"
)

// maxTrajectorySamples bounds EngagementPlan.Trajectory per spec.md §3.
const maxTrajectorySamples = 128

// maxWaypoints bounds the editable waypoint list per spec.md §3.
const maxWaypoints = 8

// Waypoint is one editable point in a planner's route, with an arrival time
// offset measured from launch.
type Waypoint struct {
	Point    geo.Point3D
	ArrivalT time.Duration
}

// Assignment carries the target/drop-point/mission parameters recorded by
// SetAssignment, originating from an AssignCommand's assignment info.
type Assignment struct {
	TargetID   string
	DropPoint  geo.Point3D
	HasDrop    bool
	Parameters map[string]float64
}

// OwnShipInfo is the launching platform's navigation state.
type OwnShipInfo struct {
	Position   geo.Point3D
	HeadingDeg float64
	SpeedMPS   float64
}

// TargetInfo is one tracked target, keyed by ID in the bank's environment
// snapshot.
type TargetInfo struct {
	ID          string
	Position    geo.Point3D
	VelocityMPS float64
}

// EngagementPlan is the computed output of a planner (spec.md §3). Equal
// compares by value (used by internal/tube's last-result caching to
// suppress redundant plan-updated notifications).
type EngagementPlan struct {
	Tube               int
	Kind               weapon.Kind
	Valid              bool
	TotalFlightTime    time.Duration
	Trajectory         []geo.Point3D
	Waypoints          []Waypoint
	CurrentPosition    geo.Point3D
	TimeToTarget       time.Duration
	NextWaypointIndex  int
	TimeToNextWaypoint time.Duration
	LaunchPoint        geo.Point3D
	DropPoint          geo.Point3D
}

// Equal reports whether p and other are equal by value, field for field.
func (p EngagementPlan) Equal(other EngagementPlan) bool {
	if p.Tube != other.Tube || p.Kind != other.Kind || p.Valid != other.Valid ||
		p.TotalFlightTime != other.TotalFlightTime ||
		p.CurrentPosition != other.CurrentPosition ||
		p.TimeToTarget != other.TimeToTarget ||
		p.NextWaypointIndex != other.NextWaypointIndex ||
		p.TimeToNextWaypoint != other.TimeToNextWaypoint ||
		p.LaunchPoint != other.LaunchPoint ||
		p.DropPoint != other.DropPoint {
		return false
	}
	if len(p.Trajectory) != len(other.Trajectory) || len(p.Waypoints) != len(other.Waypoints) {
		return false
	}
	for i := range p.Trajectory {
		if p.Trajectory[i] != other.Trajectory[i] {
			return false
		}
	}
	for i := range p.Waypoints {
		if p.Waypoints[i] != other.Waypoints[i] {
			return false
		}
	}
	return true
}

// Planner is the per-kind engagement planner contract (spec.md §4.2).
type Planner interface {
	SetAssignment(a Assignment)
	SetWaypoints(wps []Waypoint)
	UpdateOwnShip(info OwnShipInfo)
	UpdateTarget(info TargetInfo)
	SetAxisCenter(center geo.Point2D)
	Compute() bool
	Result() EngagementPlan
	IsValid() bool
	SetLaunched(launched bool)
	CurrentPosition(secondsSinceLaunch float64) geo.Point3D
	Tick()
	SupportsWaypointModification() bool
	RequiresPrePlanning() bool
	Reset()
}
