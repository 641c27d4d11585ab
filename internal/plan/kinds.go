package plan

import (
	"time"

	"tubebank/internal/geo"
	"tubebank/internal/weapon"
)

// waypointPlanner is the shared implementation for kinds that fly a
// waypoint-defined route to a target or drop point (ALM, ASM, AAM, WGT): the
// only differences between them are capability flags, so they share one
// Compute body parameterized by those flags.
type waypointPlanner struct {
	base
	supportsWaypointMod bool
	requiresPrePlanning bool
}

func newWaypointPlanner(tube int, kind weapon.Kind, supportsWaypointMod bool) *waypointPlanner {
	return &waypointPlanner{base: newBase(tube, kind), supportsWaypointMod: supportsWaypointMod}
}

func (p *waypointPlanner) SupportsWaypointModification() bool { return p.supportsWaypointMod }
func (p *waypointPlanner) RequiresPrePlanning() bool           { return p.requiresPrePlanning }

func (p *waypointPlanner) Compute() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	valid := len(p.waypoints) > 0 && p.hasAxis && p.hasOwnShip && p.validBounds()

	var traj []geo.Point3D
	var launchPoint, dropPoint geo.Point3D
	var total time.Duration
	if valid {
		launchPoint = p.ownShip.Position
		dropPoint = p.assignment.DropPoint
		if !p.assignment.HasDrop {
			dropPoint = p.waypoints[len(p.waypoints)-1].Point
		}
		traj = p.buildTrajectory(launchPoint, dropPoint)
		total = p.totalFlightTime()
	}

	nextIdx, timeToNext := 0, total
	if len(p.waypoints) > 0 {
		nextIdx = 0
		timeToNext = p.waypoints[0].ArrivalT
	}

	p.result = EngagementPlan{
		Tube:               p.tube,
		Kind:               p.kind,
		Valid:              valid,
		TotalFlightTime:    total,
		Trajectory:         traj,
		Waypoints:          append([]Waypoint(nil), p.waypoints...),
		CurrentPosition:    launchPoint,
		TimeToTarget:       total,
		NextWaypointIndex:  nextIdx,
		TimeToNextWaypoint: timeToNext,
		LaunchPoint:        launchPoint,
		DropPoint:          dropPoint,
	}
	return valid
}

// minePlanner models MMINE: it never flies a waypoint route, only a
// pre-planned drop at a commanded point; RequiresPrePlanning is true per
// spec.md §4.2.
type minePlanner struct {
	base
}

func newMinePlanner(tube int) *minePlanner {
	return &minePlanner{base: newBase(tube, weapon.KindMMINE)}
}

func (p *minePlanner) SupportsWaypointModification() bool { return false }
func (p *minePlanner) RequiresPrePlanning() bool           { return true }

func (p *minePlanner) Compute() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	valid := p.hasAxis && p.hasOwnShip && p.assignment.HasDrop &&
		geo.Validate3D(p.assignment.DropPoint) == nil

	var traj []geo.Point3D
	launchPoint := p.ownShip.Position
	dropPoint := p.assignment.DropPoint
	if valid {
		traj = []geo.Point3D{launchPoint, dropPoint}
	}

	p.result = EngagementPlan{
		Tube:            p.tube,
		Kind:            p.kind,
		Valid:           valid,
		TotalFlightTime: 0,
		Trajectory:      traj,
		Waypoints:       nil,
		CurrentPosition: launchPoint,
		LaunchPoint:     launchPoint,
		DropPoint:       dropPoint,
	}
	return valid
}

// naPlanner backs weapon.KindNA: a weapon kind with no engagement capability
// at all. Compute always fails; every setter is accepted but inert.
type naPlanner struct {
	base
}

func newNAPlanner(tube int) *naPlanner {
	return &naPlanner{base: newBase(tube, weapon.KindNA)}
}

func (p *naPlanner) SupportsWaypointModification() bool { return false }
func (p *naPlanner) RequiresPrePlanning() bool           { return false }

func (p *naPlanner) Compute() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = EngagementPlan{Tube: p.tube, Kind: p.kind, Valid: false}
	return false
}
