package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a 6dof pose, position and orientation, of an object or a frame of reference.
// Poses are immutable; operations on them return new Poses.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

type basicPose struct {
	point       r3.Vector
	orientation quaternion
}

// Point returns the translation of the pose.
func (p *basicPose) Point() r3.Vector {
	return p.point
}

// Orientation returns the rotation of the pose.
func (p *basicPose) Orientation() Orientation {
	o := p.orientation
	return &o
}

// NewZeroPose returns a pose at (0,0,0) with no rotation.
func NewZeroPose() Pose {
	return &basicPose{orientation: quaternion{Real: 1}}
}

// NewPose takes in a position and orientation and returns a Pose.
func NewPose(p r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromPoint(p)
	}
	return &basicPose{p, quaternion(Normalize(o.Quaternion()))}
}

// NewPoseFromPoint takes in a cartesian (x,y,z) and stores it as a vector.
// It will have the same orientation as the frame it is in reference to.
func NewPoseFromPoint(point r3.Vector) Pose {
	return &basicPose{point, quaternion{Real: 1}}
}

// NewPoseFromOrientation takes in an orientation and returns a Pose at the origin with that orientation.
func NewPoseFromOrientation(o Orientation) Pose {
	if o == nil {
		return NewZeroPose()
	}
	return &basicPose{r3.Vector{}, quaternion(Normalize(o.Quaternion()))}
}

// Compose treats Poses as functions A(x) and B(x), and produces a new function C(x) = A(B(x)).
// It converts the poses to quaternion/vector form and applies the rotation of a to the point of b.
func Compose(a, b Pose) Pose {
	qa := a.Orientation().Quaternion()
	return &basicPose{
		point:       a.Point().Add(rotateVector(qa, b.Point())),
		orientation: quaternion(Normalize(quat.Mul(qa, b.Orientation().Quaternion()))),
	}
}

// PoseInverse returns the inverse of a pose. If a pose maps points in frame B to frame A,
// the inverse maps them from frame A to frame B.
func PoseInverse(p Pose) Pose {
	qInv := quat.Conj(Normalize(p.Orientation().Quaternion()))
	return &basicPose{
		point:       rotateVector(qInv, p.Point().Mul(-1)),
		orientation: quaternion(qInv),
	}
}

// PoseBetween returns the pose representing the difference between the two given poses,
// such that Compose(a, PoseBetween(a, b)) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// Interpolate will return a new Pose that is the interpolation between two Poses. Position is
// interpolated linearly, while orientation is interpolated by slerp. A by of 0 returns the
// first pose and a by of 1 the second.
func Interpolate(p1, p2 Pose, by float64) Pose {
	return &basicPose{
		point: r3.Vector{
			X: (p1.Point().X + (p2.Point().X-p1.Point().X)*by),
			Y: (p1.Point().Y + (p2.Point().Y-p1.Point().Y)*by),
			Z: (p1.Point().Z + (p2.Point().Z-p1.Point().Z)*by),
		},
		orientation: quaternion(slerp(p1.Orientation().Quaternion(), p2.Orientation().Quaternion(), by)),
	}
}

// PoseAlmostEqual checks if poses are approximately the same.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostCoincidentEps(a, b, 1e-8) && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}

// PoseAlmostCoincident checks if two poses approximately are at the same 3D coordinate location,
// ignoring orientation.
func PoseAlmostCoincident(a, b Pose) bool {
	return PoseAlmostCoincidentEps(a, b, 1e-8)
}

// PoseAlmostCoincidentEps checks if two poses approximately are at the same 3D coordinate location
// with a user-defined epsilon, ignoring orientation.
func PoseAlmostCoincidentEps(a, b Pose, epsilon float64) bool {
	return R3VectorAlmostEqual(a.Point(), b.Point(), epsilon)
}

// R3VectorAlmostEqual compares two r3.Vector objects and returns if the all elementwise differences
// are less than epsilon.
func R3VectorAlmostEqual(a, b r3.Vector, epsilon float64) bool {
	return a.Sub(b).Norm() < epsilon
}

// rotateVector rotates vector v by the rotation represented by unit quaternion q.
func rotateVector(q quat.Number, v r3.Vector) r3.Vector {
	if v.Norm2() == 0 {
		return v
	}
	vq := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}
