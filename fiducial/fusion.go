package fiducial

import (
	"math"

	"go.viam.com/fiducialmap/spatialmath"
)

const (
	// minVariance is the floor applied when fusing two variances, so that a
	// fused estimate never becomes indistinguishable from a pinned anchor.
	minVariance = 1e-6

	// minSourceVariance floors the source fiducial's contribution when placing
	// a target from a co-observation, so that placements derived from the
	// anchor still carry some uncertainty.
	minSourceVariance = 1e-4
)

// fuseVariance returns the variance of a gaussian that has been combined with
// another: the harmonic mean of the two, floored at minVariance. It is
// commutative and never exceeds either input. It does not account for the
// degree of overlap between the two estimates; an overlap-aware form weighting
// by the spatial disagreement of the means was tried upstream and did not
// converge, so only this rule is used.
func fuseVariance(v1, v2 float64) float64 {
	return math.Max(1.0/(1.0/v1+1.0/v2), minVariance)
}

// blendPose combines two pose estimates using their variances as weights: the
// translation is the variance-weighted average and the rotation is slerped by
// the same fraction. A zero-variance input is exact and dominates completely.
func blendPose(p1 spatialmath.Pose, v1 float64, p2 spatialmath.Pose, v2 float64) spatialmath.Pose {
	if v1 == 0 {
		return p1
	}
	if v2 == 0 {
		return p2
	}
	return spatialmath.Interpolate(p1, p2, v1/(v1+v2))
}
