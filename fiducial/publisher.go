package fiducial

import (
	"time"

	"github.com/edaniels/golog"

	"go.viam.com/fiducialmap/spatialmath"
)

// A Publisher receives the outputs of every map update: the full fiducial set,
// per-fiducial visual refresh requests, and the fused observer pose. Payload
// formats are the publisher's concern; the map hands over its own entities.
type Publisher interface {
	// PublishMap receives the full current fiducial set, ordered by id.
	PublishMap(fiducials []*Fiducial)
	// PublishMarker requests a visual refresh of one fiducial.
	PublishMarker(f *Fiducial)
	// PublishPose receives the fused observer pose for a frame. It is only
	// called on frames where at least one observation matched a known
	// fiducial.
	PublishPose(pose spatialmath.Pose, variance float64, frameTime time.Time)
}

// NoopPublisher discards everything. Useful when the map is run headless.
type NoopPublisher struct{}

// PublishMap does nothing.
func (NoopPublisher) PublishMap([]*Fiducial) {}

// PublishMarker does nothing.
func (NoopPublisher) PublishMarker(*Fiducial) {}

// PublishPose does nothing.
func (NoopPublisher) PublishPose(spatialmath.Pose, float64, time.Time) {}

// LogPublisher writes observer poses and map sizes to a logger.
type LogPublisher struct {
	Logger golog.Logger
}

// PublishMap logs the size of the map.
func (p *LogPublisher) PublishMap(fiducials []*Fiducial) {
	p.Logger.Debugw("map", "fiducials", len(fiducials))
}

// PublishMarker logs the refreshed fiducial.
func (p *LogPublisher) PublishMarker(f *Fiducial) {
	pt := f.Pose.Point()
	p.Logger.Debugw("marker",
		"id", f.ID,
		"x", pt.X, "y", pt.Y, "z", pt.Z,
		"variance", f.Variance,
	)
}

// PublishPose logs the fused observer pose.
func (p *LogPublisher) PublishPose(pose spatialmath.Pose, variance float64, frameTime time.Time) {
	pt := pose.Point()
	ea := pose.Orientation().EulerAngles()
	p.Logger.Infow("observer pose",
		"time", frameTime,
		"x", pt.X, "y", pt.Y, "z", pt.Z,
		"roll", ea.Roll, "pitch", ea.Pitch, "yaw", ea.Yaw,
		"variance", variance,
	)
}
