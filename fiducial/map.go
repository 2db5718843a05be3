package fiducial

import (
	"math"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"go.viam.com/fiducialmap/spatialmath"
)

// initPhase tracks the map origin bootstrap. The map starts with no anchor,
// picks a provisional origin from the first usable frame, refines it for a
// fixed number of frames, and then pins it permanently.
type initPhase int

const (
	phaseNoAnchor initPhase = iota
	phaseProvisional
	phaseAnchored
)

const (
	// autoInitFrames is how many frames the provisional origin is refined
	// for before being pinned as the anchor.
	autoInitFrames = 10

	// markerRefreshInterval is the minimum wall-clock gap between periodic
	// visual refreshes of one fiducial. Refreshes caused by a mutation are
	// sent regardless.
	markerRefreshInterval = time.Second
)

// Map is the set of discovered fiducials and the logic that folds each frame
// of observations into it. It is not safe for concurrent use; frames must be
// delivered serially.
type Map struct {
	logger    golog.Logger
	clock     clock.Clock
	publisher Publisher
	filename  string

	fiducials map[int]*Fiducial
	frameNum  int

	phase          initPhase
	originID       int
	initStartFrame int
}

// NewMap returns a map backed by the given file, loading any previously saved
// fiducials from it. A missing or unreadable file starts the map empty. If
// publisher is nil, outputs are discarded.
func NewMap(filename string, publisher Publisher, logger golog.Logger) *Map {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	m := &Map{
		logger:    logger,
		clock:     clock.New(),
		publisher: publisher,
		filename:  filename,
		fiducials: map[int]*Fiducial{},
		phase:     phaseNoAnchor,
		originID:  -1,
	}
	m.load(filename)
	m.publishMarkers()
	return m
}

// Update folds one frame of observations into the map: bootstrapping the
// origin while initializing, otherwise placing and refining fiducials from
// co-observations and estimating the observer pose. Results go to the
// publisher after every frame.
func (m *Map) Update(obs []Observation, frameTime time.Time) {
	m.logger.Debugw("updating map", "observations", len(obs), "fiducials", len(m.fiducials))

	m.frameNum++

	if m.phase == phaseProvisional || (m.phase == phaseNoAnchor && len(m.fiducials) == 0) {
		m.autoInit(obs)
	} else {
		m.updateMap(obs)
		m.updatePose(obs, frameTime)
	}

	m.publisher.PublishMap(m.Fiducials())
	m.publishMarkers()
}

// Initializing reports whether the map is still refining its provisional
// origin. It flips false permanently once the anchor is pinned.
func (m *Map) Initializing() bool {
	return m.phase == phaseProvisional
}

// Len returns the number of fiducials in the map.
func (m *Map) Len() int {
	return len(m.fiducials)
}

// Fiducial returns the fiducial with the given id, if known.
func (m *Map) Fiducial(id int) (*Fiducial, bool) {
	f, ok := m.fiducials[id]
	return f, ok
}

// Fiducials returns the current fiducial set ordered by id.
func (m *Map) Fiducials() []*Fiducial {
	ids := make([]int, 0, len(m.fiducials))
	for id := range m.fiducials {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*Fiducial, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.fiducials[id])
	}
	return out
}

// closestObservation returns the observation whose fiducial is nearest the
// camera, scanning the whole batch.
func closestObservation(obs []Observation) (Observation, bool) {
	closestIdx := -1
	smallestDist := 0.0
	for i, o := range obs {
		d := o.CamToFid.Point().Norm2()
		if closestIdx < 0 || d < smallestDist {
			closestIdx = i
			smallestDist = d
		}
	}
	if closestIdx < 0 {
		return Observation{}, false
	}
	return obs[closestIdx], true
}

// autoInit bootstraps the map origin: the nearest fiducial of the first
// usable frame becomes the provisional origin, re-observations refine it,
// and after autoInitFrames frames it is pinned as the anchor.
func (m *Map) autoInit(obs []Observation) {
	m.logger.Debugw("auto-initializing map", "frame", m.frameNum)

	if m.phase == phaseNoAnchor {
		o, ok := closestObservation(obs)
		if !ok {
			m.logger.Warn("could not find a fiducial to initialize map from")
			return
		}
		m.logger.Infow("initializing map from fiducial", "id", o.ID)
		m.fiducials[o.ID] = NewFiducial(o.ID, o.FidToCam, o.ObjectError)
		m.phase = phaseProvisional
		m.originID = o.ID
		m.initStartFrame = m.frameNum
	} else {
		for _, o := range obs {
			if o.ID != m.originID {
				continue
			}
			if err := m.fiducials[m.originID].Update(o.FidToCam, o.ObjectError); err != nil {
				m.logger.Errorw("failed to refine origin estimate", "id", m.originID, "error", err)
			}
			break
		}
	}

	if m.phase == phaseProvisional && m.frameNum >= m.initStartFrame+autoInitFrames {
		m.fiducials[m.originID].Variance = 0
		m.phase = phaseAnchored
		m.logger.Infow("map anchored", "id", m.originID)
	}
}

// updateMap places and refines fiducials from every ordered pair of same-frame
// observations. Both orderings of each pair are visited, so each pair is fused
// twice per frame; the operation is symmetric and stable, and the doubled
// visit adds convergence pressure.
func (m *Map) updateMap(obs []Observation) {
	for i := range obs {
		for j := range obs {
			o1, o2 := obs[i], obs[j]

			// source and dest are the same
			if o1.ID == o2.ID {
				continue
			}

			// cannot place a target from an unknown source
			f1, ok := m.fiducials[o1.ID]
			if !ok {
				m.logger.Debugw("no map entry for source fiducial", "id", o1.ID)
				continue
			}

			// never overwrite the anchor
			f2, known := m.fiducials[o2.ID]
			if known && f2.Variance == 0 {
				continue
			}

			rel := spatialmath.Compose(o1.FidToCam, o2.CamToFid)
			est := spatialmath.Compose(f1.Pose, rel)
			variance := o1.ObjectError + o2.ObjectError + math.Max(f1.Variance, minSourceVariance)

			if !known {
				m.logger.Infow("new fiducial", "id", o2.ID, "from", o1.ID)
				f2 = NewFiducial(o2.ID, est, variance)
				m.fiducials[o2.ID] = f2
				f2.Links[o1.ID] = true
				f1.Links[o2.ID] = true
				if err := m.Save(); err != nil {
					m.logger.Errorw("failed to save map", "error", err)
				}
			} else {
				if err := f2.Update(est, variance); err != nil {
					m.logger.Errorw("failed to fuse estimate", "id", o2.ID, "error", err)
					continue
				}
				f2.Links[o1.ID] = true
				f1.Links[o2.ID] = true
			}

			m.refreshMarker(f1)
			m.refreshMarker(f2)
		}
	}
}

// updatePose folds the pose estimates from every observation of a known
// fiducial into one observer pose. Frames where nothing matched emit no pose,
// so a consumer never sees a stale overwrite.
func (m *Map) updatePose(obs []Observation, frameTime time.Time) {
	var pose spatialmath.Pose
	var variance float64

	for _, o := range obs {
		f, ok := m.fiducials[o.ID]
		if !ok {
			continue
		}

		p := spatialmath.Compose(f.Pose, o.FidToCam)
		v := f.Variance + o.ObjectError

		if pose == nil {
			pose, variance = p, v
		} else {
			pose = blendPose(pose, variance, p, v)
			variance = fuseVariance(variance, v)
		}
	}
	if pose == nil {
		return
	}

	pt := pose.Point()
	m.logger.Debugw("observer pose", "x", pt.X, "y", pt.Y, "z", pt.Z, "variance", variance)
	m.publisher.PublishPose(pose, variance, frameTime)
}

// refreshMarker requests a visual refresh regardless of the rate limit.
func (m *Map) refreshMarker(f *Fiducial) {
	f.LastPublished = m.clock.Now()
	m.publisher.PublishMarker(f)
}

// publishMarkers refreshes every fiducial that has not been refreshed
// within markerRefreshInterval.
func (m *Map) publishMarkers() {
	now := m.clock.Now()
	for _, f := range m.Fiducials() {
		if now.Sub(f.LastPublished) > markerRefreshInterval {
			m.refreshMarker(f)
		}
	}
}
