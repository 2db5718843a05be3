package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// quaternion is an orientation in quaternion representation.
type quaternion quat.Number

// AxisAngles returns the orientation in axis angle representation.
func (q *quaternion) AxisAngles() *R4AA {
	return QuatToR4AA(q.Quaternion())
}

// Quaternion returns orientation in quaternion representation.
func (q *quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

// EulerAngles returns orientation in Euler angle representation.
func (q *quaternion) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(q.Quaternion())
}

// NewOrientationFromQuaternion sets the orientation from a quaternion.
func NewOrientationFromQuaternion(q quat.Number) Orientation {
	qq := quaternion(q)
	return &qq
}

// Normalize a quaternion, returning its, versor (unit quaternion).
func Normalize(q quat.Number) quat.Number {
	length := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if math.Abs(length-1.0) < 1e-10 {
		return q
	}
	if length == 0 {
		return quat.Number{Real: 1}
	}
	if length == math.Inf(1) {
		length = float64(math.MaxFloat64)
	}
	return quat.Number{Real: q.Real / length, Imag: q.Imag / length, Jmag: q.Jmag / length, Kmag: q.Kmag / length}
}

// slerp takes two quaternions and interpolates between them by amount by, renormalizing at the end.
func slerp(q1, q2 quat.Number, by float64) quat.Number {
	// cos(theta) between the two quaternions; negate one side if needed to
	// take the short way around.
	dot := q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
	if dot < 0 {
		q2 = quat.Number{Real: -q2.Real, Imag: -q2.Imag, Jmag: -q2.Jmag, Kmag: -q2.Kmag}
		dot = -dot
	}
	if dot > 1-1e-10 {
		// nearly parallel, lerp to avoid dividing by a vanishing sin
		return Normalize(quat.Add(quat.Scale(1-by, q1), quat.Scale(by, q2)))
	}
	theta := math.Acos(dot)
	s1 := math.Sin((1 - by) * theta)
	s2 := math.Sin(by * theta)
	return Normalize(quat.Scale(1/math.Sin(theta), quat.Add(quat.Scale(s1, q1), quat.Scale(s2, q2))))
}

// QuaternionAlmostEqual checks if two quaternions are the same rotation to within a tolerance,
// treating q and -q as equal.
func QuaternionAlmostEqual(q1, q2 quat.Number, tol float64) bool {
	q1 = Normalize(q1)
	q2 = Normalize(q2)
	dot := q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
	return 1-math.Abs(dot) < tol
}

// QuatToR4AA converts a quat to an R4 axis angle in the same way the C++ Eigen library does.
// https://eigen.tuxfamily.org/dox/AngleAxis_8h_source.html
func QuatToR4AA(q quat.Number) *R4AA {
	denom := quat.Abs(quat.Number{Imag: q.Imag, Jmag: q.Jmag, Kmag: q.Kmag})

	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}

	if denom < 1e-6 {
		return &R4AA{angle, 1, 0, 0}
	}
	return &R4AA{angle, q.Imag / denom, q.Jmag / denom, q.Kmag / denom}
}
