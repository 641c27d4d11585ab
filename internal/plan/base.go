package plan

import (
	"sync"
	"time"

	"tubebank/internal/geo"
	"tubebank/internal/weapon"
)

// base holds the fields and plumbing common to every kind's planner: input
// state under a mutex, the cached result, and the launched/elapsed tracking
// needed by CurrentPosition/Tick. Each kind embeds base and supplies its own
// Compute (trajectory shape differs by kind) plus capability flags.
type base struct {
	mu sync.Mutex

	tube       int
	kind       weapon.Kind
	assignment Assignment
	waypoints  []Waypoint
	ownShip    OwnShipInfo
	hasOwnShip bool
	targets    map[string]TargetInfo
	axisCenter geo.Point2D
	hasAxis    bool

	launched        bool
	secondsElapsed  float64
	result          EngagementPlan
}

func newBase(tube int, kind weapon.Kind) base {
	return base{
		tube:    tube,
		kind:    kind,
		targets: make(map[string]TargetInfo),
		result:  EngagementPlan{Tube: tube, Kind: kind},
	}
}

func (b *base) SetAssignment(a Assignment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assignment = a
}

func (b *base) SetWaypoints(wps []Waypoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(wps) > maxWaypoints {
		wps = wps[:maxWaypoints]
	}
	b.waypoints = append([]Waypoint(nil), wps...)
}

func (b *base) UpdateOwnShip(info OwnShipInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ownShip = info
	b.hasOwnShip = true
}

func (b *base) UpdateTarget(info TargetInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[info.ID] = info
}

func (b *base) SetAxisCenter(center geo.Point2D) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.axisCenter = center
	b.hasAxis = true
}

func (b *base) Result() EngagementPlan {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

func (b *base) IsValid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result.Valid
}

func (b *base) SetLaunched(launched bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launched = launched
	if launched {
		b.secondsElapsed = 0
	}
}

// Reset clears assignment, waypoints, target telemetry, and the cached
// result, returning the planner to its just-constructed state. Called by a
// LaunchTube on Clear so a stale plan never leaks to the next weapon bound
// to the tube.
func (b *base) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assignment = Assignment{}
	b.waypoints = nil
	b.ownShip = OwnShipInfo{}
	b.hasOwnShip = false
	b.targets = make(map[string]TargetInfo)
	b.axisCenter = geo.Point2D{}
	b.hasAxis = false
	b.launched = false
	b.secondsElapsed = 0
	b.result = EngagementPlan{Tube: b.tube, Kind: b.kind}
}

// CurrentPosition linearly interpolates across the cached trajectory samples
// using elapsed seconds against TotalFlightTime (spec.md §9 open question
// (c): linear interpolation is the recommended default).
func (b *base) CurrentPosition(secondsSinceLaunch float64) geo.Point3D {
	b.mu.Lock()
	defer b.mu.Unlock()
	traj := b.result.Trajectory
	if len(traj) == 0 {
		return b.result.LaunchPoint
	}
	if len(traj) == 1 {
		return traj[0]
	}
	total := b.result.TotalFlightTime.Seconds()
	if total <= 0 {
		return traj[len(traj)-1]
	}
	t := secondsSinceLaunch / total
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	segCount := len(traj) - 1
	segF := t * float64(segCount)
	idx := int(segF)
	if idx >= segCount {
		return traj[len(traj)-1]
	}
	localT := segF - float64(idx)
	return geo.Interpolate3D(traj[idx], traj[idx+1], localT)
}

// Tick advances the post-launch elapsed-time clock used by CurrentPosition
// when a kind's Compute wants to refresh its own current-position field.
func (b *base) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.launched {
		return
	}
	b.secondsElapsed += tickIntervalSeconds
	b.result.CurrentPosition = b.currentPositionLocked(b.secondsElapsed)
}

func (b *base) currentPositionLocked(secondsSinceLaunch float64) geo.Point3D {
	traj := b.result.Trajectory
	if len(traj) == 0 {
		return b.result.LaunchPoint
	}
	if len(traj) == 1 {
		return traj[0]
	}
	total := b.result.TotalFlightTime.Seconds()
	if total <= 0 {
		return traj[len(traj)-1]
	}
	t := secondsSinceLaunch / total
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	segCount := len(traj) - 1
	segF := t * float64(segCount)
	idx := int(segF)
	if idx >= segCount {
		return traj[len(traj)-1]
	}
	localT := segF - float64(idx)
	return geo.Interpolate3D(traj[idx], traj[idx+1], localT)
}

// tickIntervalSeconds matches the controller's default bank-tick cadence
// (100ms): LaunchTube.Tick calls the planner's Tick on every bank tick, so
// one Tick call advances elapsed time by 0.1s.
const tickIntervalSeconds = 0.1

// validBounds reports whether every waypoint lies within the geodetic
// bounds spec.md §4.2 requires.
func (b *base) validBounds() bool {
	for _, wp := range b.waypoints {
		if geo.Validate3D(wp.Point) != nil {
			return false
		}
	}
	return true
}

// buildTrajectory samples a straight-line path through own-ship position,
// each waypoint in order, and finally the drop/launch point (not repeated
// when it is the last waypoint itself), bounded to maxTrajectorySamples
// points total.
func (b *base) buildTrajectory(start, end geo.Point3D) []geo.Point3D {
	points := make([]geo.Point3D, 0, len(b.waypoints)+2)
	points = append(points, start)
	for _, wp := range b.waypoints {
		points = append(points, wp.Point)
	}
	if points[len(points)-1] != end {
		points = append(points, end)
	}

	if len(points) <= maxTrajectorySamples {
		return points
	}
	// Downsample evenly, always keeping the first and last point.
	out := make([]geo.Point3D, 0, maxTrajectorySamples)
	step := float64(len(points)-1) / float64(maxTrajectorySamples-1)
	for i := 0; i < maxTrajectorySamples; i++ {
		idx := int(float64(i) * step)
		if idx >= len(points) {
			idx = len(points) - 1
		}
		out = append(out, points[idx])
	}
	return out
}

func (b *base) totalFlightTime() time.Duration {
	if len(b.waypoints) == 0 {
		return 0
	}
	return b.waypoints[len(b.waypoints)-1].ArrivalT
}
