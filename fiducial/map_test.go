package fiducial

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/fiducialmap/spatialmath"
)

// fakePublisher records everything the map hands over.
type fakePublisher struct {
	mapCalls    int
	markerIDs   []int
	poses       []spatialmath.Pose
	variances   []float64
	poseResults int
}

func (p *fakePublisher) PublishMap(fiducials []*Fiducial) {
	p.mapCalls++
}

func (p *fakePublisher) PublishMarker(f *Fiducial) {
	p.markerIDs = append(p.markerIDs, f.ID)
}

func (p *fakePublisher) PublishPose(pose spatialmath.Pose, variance float64, _ time.Time) {
	p.poses = append(p.poses, pose)
	p.variances = append(p.variances, variance)
	p.poseResults++
}

func newTestMap(t *testing.T) (*Map, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	m := NewMap(filepath.Join(t.TempDir(), "map.txt"), pub, golog.NewTestLogger(t))
	return m, pub
}

// obsAt builds an observation of the given fiducial with FidToCam already in
// map conventions, sidestepping the detector axis correction.
func obsAt(id int, fidToCam spatialmath.Pose, objectErr float64) Observation {
	return Observation{
		ID:          id,
		FidToCam:    fidToCam,
		CamToFid:    spatialmath.PoseInverse(fidToCam),
		ObjectError: objectErr,
	}
}

func TestAutoInit(t *testing.T) {
	m, _ := newTestMap(t)
	origin := spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: 1})
	o := obsAt(7, origin, 0.02)

	m.Update([]Observation{o}, time.Now())

	test.That(t, m.Len(), test.ShouldEqual, 1)
	test.That(t, m.Initializing(), test.ShouldBeTrue)
	f, ok := m.Fiducial(7)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, f.Variance, test.ShouldEqual, 0.02)
	test.That(t, f.NumObs, test.ShouldEqual, 0)

	// frames 2 through 10 keep refining the provisional origin
	for i := 2; i <= 10; i++ {
		m.Update([]Observation{o}, time.Now())
		test.That(t, m.Initializing(), test.ShouldBeTrue)
	}
	test.That(t, f.NumObs, test.ShouldEqual, 9)
	test.That(t, f.Variance, test.ShouldBeGreaterThan, 0.0)

	// frame 11 pins the anchor
	m.Update([]Observation{o}, time.Now())
	test.That(t, m.Initializing(), test.ShouldBeFalse)
	test.That(t, f.Variance, test.ShouldEqual, 0.0)
}

func TestAutoInitEmptyFirstBatch(t *testing.T) {
	m, _ := newTestMap(t)

	m.Update(nil, time.Now())
	test.That(t, m.Len(), test.ShouldEqual, 0)
	test.That(t, m.Initializing(), test.ShouldBeFalse)

	// naturally retried on the next frame with detections
	m.Update([]Observation{obsAt(4, spatialmath.NewZeroPose(), 0.1)}, time.Now())
	test.That(t, m.Len(), test.ShouldEqual, 1)
	test.That(t, m.Initializing(), test.ShouldBeTrue)
}

func TestAutoInitPicksClosest(t *testing.T) {
	m, _ := newTestMap(t)
	far := obsAt(1, spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: 5}), 0.1)
	near := obsAt(2, spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: 1}), 0.1)
	alsoFar := obsAt(3, spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: 3}), 0.1)

	m.Update([]Observation{far, near, alsoFar}, time.Now())

	test.That(t, m.Len(), test.ShouldEqual, 1)
	_, ok := m.Fiducial(2)
	test.That(t, ok, test.ShouldBeTrue)
}

// anchorMap returns a map holding a single pinned fiducial at the origin.
func anchorMap(t *testing.T) (*Map, *fakePublisher) {
	t.Helper()
	m, pub := newTestMap(t)
	m.fiducials[1] = NewFiducial(1, spatialmath.NewZeroPose(), 0)
	m.phase = phaseAnchored
	m.originID = 1
	return m, pub
}

func TestMutualFusionCreatesFiducial(t *testing.T) {
	m, _ := anchorMap(t)

	rel := spatialmath.NewPose(r3.Vector{X: 2, Y: 0, Z: 0}, &spatialmath.EulerAngles{Yaw: 0.5})
	o1 := obsAt(1, spatialmath.NewZeroPose(), 0.01)
	o2 := obsAt(2, spatialmath.PoseInverse(rel), 0.03)

	m.Update([]Observation{o1, o2}, time.Now())

	test.That(t, m.Len(), test.ShouldEqual, 2)
	f2, ok := m.Fiducial(2)
	test.That(t, ok, test.ShouldBeTrue)
	// placed at anchor pose composed with the relative transform
	test.That(t, spatialmath.PoseAlmostEqual(f2.Pose, rel), test.ShouldBeTrue)
	// source variance floors at 1e-4 even for the anchor
	test.That(t, f2.Variance, test.ShouldAlmostEqual, 0.01+0.03+1e-4)
	// linked both ways
	f1, _ := m.Fiducial(1)
	test.That(t, f1.Links[2], test.ShouldBeTrue)
	test.That(t, f2.Links[1], test.ShouldBeTrue)
	// anchor untouched
	test.That(t, f1.Variance, test.ShouldEqual, 0.0)
}

func TestMutualFusionRefinesFiducial(t *testing.T) {
	m, _ := anchorMap(t)

	rel := spatialmath.NewPoseFromPoint(r3.Vector{X: 2, Y: 0, Z: 0})
	o1 := obsAt(1, spatialmath.NewZeroPose(), 0.01)
	o2 := obsAt(2, spatialmath.PoseInverse(rel), 0.03)

	m.Update([]Observation{o1, o2}, time.Now())
	f2, _ := m.Fiducial(2)
	varAfterCreate := f2.Variance

	// the same joint observation again fuses the pair estimate into the
	// existing fiducial; the pose is stable and the variance shrinks
	m.Update([]Observation{o1, o2}, time.Now())
	test.That(t, spatialmath.PoseAlmostEqual(f2.Pose, rel), test.ShouldBeTrue)
	test.That(t, f2.Variance, test.ShouldBeLessThan, varAfterCreate)
	test.That(t, f2.NumObs, test.ShouldBeGreaterThan, 0)
}

func TestMutualFusionSkipsUnknownSource(t *testing.T) {
	m, _ := anchorMap(t)

	// both observations are of unknown fiducials; nothing can be placed
	o1 := obsAt(8, spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 0, Z: 0}), 0.01)
	o2 := obsAt(9, spatialmath.NewPoseFromPoint(r3.Vector{X: 2, Y: 0, Z: 0}), 0.01)
	m.Update([]Observation{o1, o2}, time.Now())

	test.That(t, m.Len(), test.ShouldEqual, 1)
}

func TestObserverPose(t *testing.T) {
	m, pub := anchorMap(t)

	camInFid := spatialmath.NewPose(r3.Vector{X: 0, Y: 0, Z: -2}, &spatialmath.EulerAngles{Yaw: 0.1})
	o := obsAt(1, camInFid, 0.05)
	m.Update([]Observation{o}, time.Now())

	test.That(t, pub.poseResults, test.ShouldEqual, 1)
	// anchor at identity: observer pose is exactly the fid-to-cam transform
	test.That(t, spatialmath.PoseAlmostEqual(pub.poses[0], camInFid), test.ShouldBeTrue)
	test.That(t, pub.variances[0], test.ShouldAlmostEqual, 0.05)
}

func TestObserverPoseFoldsCandidates(t *testing.T) {
	m, pub := anchorMap(t)
	m.fiducials[2] = NewFiducial(2, spatialmath.NewPoseFromPoint(r3.Vector{X: 4, Y: 0, Z: 0}), 0.05)

	// both observations imply the camera is at the origin area but disagree
	o1 := obsAt(1, spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 0, Z: 0}), 0.05)
	o2 := obsAt(2, spatialmath.NewPoseFromPoint(r3.Vector{X: -3, Y: 0, Z: 0}), 0.05)
	m.Update([]Observation{o1, o2}, time.Now())

	test.That(t, pub.poseResults, test.ShouldEqual, 1)
	got := pub.poses[0].Point()
	// candidates are (1,0,0) with v=0.05 and (1,0,0)+... both at x=1
	test.That(t, got.X, test.ShouldAlmostEqual, 1, 1e-6)
	// folded variance is below either candidate's
	test.That(t, pub.variances[0], test.ShouldBeLessThan, 0.05+0.05)
}

func TestObserverPoseSkippedWhenNothingKnown(t *testing.T) {
	m, pub := anchorMap(t)

	o := obsAt(42, spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 1, Z: 1}), 0.05)
	m.Update([]Observation{o}, time.Now())

	test.That(t, pub.poseResults, test.ShouldEqual, 0)
	test.That(t, pub.mapCalls, test.ShouldEqual, 1)
}

func TestMarkerRefreshRateLimit(t *testing.T) {
	m, pub := anchorMap(t)
	mock := clock.NewMock()
	m.clock = mock
	mock.Add(time.Hour)

	m.publishMarkers()
	published := len(pub.markerIDs)
	test.That(t, published, test.ShouldEqual, 1)

	// a second sweep within the same second publishes nothing
	m.publishMarkers()
	test.That(t, len(pub.markerIDs), test.ShouldEqual, published)

	// once the interval passes, the marker goes out again
	mock.Add(2 * time.Second)
	m.publishMarkers()
	test.That(t, len(pub.markerIDs), test.ShouldEqual, published+1)
}

func TestMutationForcesRefresh(t *testing.T) {
	m, pub := anchorMap(t)
	mock := clock.NewMock()
	m.clock = mock
	mock.Add(time.Hour)

	rel := spatialmath.NewPoseFromPoint(r3.Vector{X: 2, Y: 0, Z: 0})
	o1 := obsAt(1, spatialmath.NewZeroPose(), 0.01)
	o2 := obsAt(2, spatialmath.PoseInverse(rel), 0.03)

	m.Update([]Observation{o1, o2}, time.Now())
	first := len(pub.markerIDs)
	test.That(t, first, test.ShouldBeGreaterThan, 0)

	// mutating the pair again within the same second still refreshes both
	m.Update([]Observation{o1, o2}, time.Now())
	test.That(t, len(pub.markerIDs), test.ShouldBeGreaterThan, first)
}
