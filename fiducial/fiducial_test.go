package fiducial

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/fiducialmap/spatialmath"
)

func TestFiducialUpdate(t *testing.T) {
	f := NewFiducial(3, spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 0, Z: 0}), 0.1)
	test.That(t, f.NumObs, test.ShouldEqual, 0)

	err := f.Update(spatialmath.NewPoseFromPoint(r3.Vector{X: 3, Y: 0, Z: 0}), 0.1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.NumObs, test.ShouldEqual, 1)
	// equal variances average the poses and halve the variance
	test.That(t, f.Pose.Point().X, test.ShouldAlmostEqual, 2)
	test.That(t, f.Variance, test.ShouldAlmostEqual, 0.05)

	err = f.Update(spatialmath.NewPoseFromPoint(r3.Vector{X: 2, Y: 0, Z: 0}), 0.05)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.NumObs, test.ShouldEqual, 2)
	test.That(t, f.Variance, test.ShouldAlmostEqual, 0.025)
}

func TestAnchorIsImmutable(t *testing.T) {
	anchor := NewFiducial(1, spatialmath.NewZeroPose(), 0)
	before := anchor.Pose

	err := anchor.Update(spatialmath.NewPoseFromPoint(r3.Vector{X: 5, Y: 5, Z: 5}), 0.5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, anchor.Variance, test.ShouldEqual, 0.0)
	test.That(t, anchor.NumObs, test.ShouldEqual, 0)
	test.That(t, spatialmath.PoseAlmostEqual(anchor.Pose, before), test.ShouldBeTrue)
}
