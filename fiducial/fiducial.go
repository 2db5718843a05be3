package fiducial

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/fiducialmap/spatialmath"
)

// errAnchorImmutable is returned when something attempts to fuse a new
// estimate into the pinned map origin.
var errAnchorImmutable = errors.New("fiducial is the map anchor; refusing to update it")

// Fiducial is one discovered marker in the map. A fiducial is created the first
// time it is observed and never deleted; reloading the map from storage
// reconstructs an identical set.
type Fiducial struct {
	ID int

	// Pose is the fiducial's pose in the map frame.
	Pose spatialmath.Pose

	// Variance is a confidence proxy, not a true statistical variance; lower
	// means more trusted. Exactly 0 marks the pinned anchor fixing the map
	// frame, which fusion must never modify.
	Variance float64

	// NumObs counts the estimates fused into this fiducial.
	NumObs int

	// LastPublished is when a visual refresh for this fiducial was last
	// requested, used to rate-limit refreshes.
	LastPublished time.Time

	// Links records which other fiducials this one has been observed together
	// with, at least once. Edges are undirected and unweighted; both
	// endpoints carry the entry.
	Links map[int]bool
}

// NewFiducial creates a fiducial from its first pose estimate.
func NewFiducial(id int, pose spatialmath.Pose, variance float64) *Fiducial {
	return &Fiducial{
		ID:       id,
		Pose:     pose,
		Variance: variance,
		Links:    map[int]bool{},
	}
}

// Update fuses a new pose estimate into the fiducial, blending the pose by the
// current and incoming variances and combining the variances. The anchor is
// immutable ground truth and refuses updates.
func (f *Fiducial) Update(newPose spatialmath.Pose, newVariance float64) error {
	if f.Variance == 0 {
		return errAnchorImmutable
	}
	f.Pose = blendPose(f.Pose, f.Variance, newPose, newVariance)
	f.Variance = fuseVariance(f.Variance, newVariance)
	f.NumObs++
	return nil
}
