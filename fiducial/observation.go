// Package fiducial implements an incremental map of fiducial markers built from
// repeated noisy detections, along with observer pose estimation against that map.
package fiducial

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/fiducialmap/spatialmath"
)

// Detectors report marker poses with y pointing forward and x pointing right,
// while the map frame has x forward and y left (REP-103). Reconciling the two
// is a fixed 90 degree rotation around the z axis, applied to every detection.
var detectorAxisCorrection = spatialmath.NewPoseFromOrientation(&spatialmath.R4AA{Theta: math.Pi / 2, RX: 0, RY: 0, RZ: 1})

// Observation is a single frame's detection of one fiducial: a pair of mutually
// inverse rigid transforms between the fiducial and the camera, plus the
// detector's error scores. Observations are immutable values.
type Observation struct {
	ID int

	// FidToCam maps points in the fiducial's frame into the camera frame.
	FidToCam spatialmath.Pose
	// CamToFid is the inverse of FidToCam.
	CamToFid spatialmath.Pose

	// ImageError and ObjectError are the detector's reprojection error scores,
	// both >= 0; lower means a more trusted detection.
	ImageError  float64
	ObjectError float64
}

// NewObservation builds an Observation from a raw detection in the camera-local
// convention, applying the detector axis correction.
func NewObservation(id int, rot spatialmath.Orientation, trans r3.Vector, imageErr, objectErr float64) Observation {
	fidToCam := spatialmath.Compose(spatialmath.NewPose(trans, rot), detectorAxisCorrection)
	return Observation{
		ID:          id,
		FidToCam:    fidToCam,
		CamToFid:    spatialmath.PoseInverse(fidToCam),
		ImageError:  imageErr,
		ObjectError: objectErr,
	}
}
