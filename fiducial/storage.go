package fiducial

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/fiducialmap/spatialmath"
)

const (
	radToDeg = 180 / math.Pi
	degToRad = math.Pi / 180
)

// The map file holds one fiducial per line, whitespace separated:
//
//	id x y z rollDeg pitchDeg yawDeg variance numObs [linkID]*
//
// Orientation is stored in degrees while all computation is in radians; the
// conversion lives here. Records are written in ascending id order so saves
// are deterministic.

// Save rewrites the whole map file from the current fiducial set. In-memory
// state is unaffected by a failure; the next structural change retries.
func (m *Map) Save() error {
	return m.SaveTo(m.filename)
}

// SaveTo writes the map to an alternate path.
func (m *Map) SaveTo(filename string) (err error) {
	m.logger.Debugw("saving map", "fiducials", len(m.fiducials), "file", filename)

	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "could not open %s for write", filename)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	for _, fid := range m.Fiducials() {
		if err := writeRecord(w, fid); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeRecord(w *bufio.Writer, f *Fiducial) error {
	pt := f.Pose.Point()
	ea := f.Pose.Orientation().EulerAngles()

	if _, err := fmt.Fprintf(w, "%d %f %f %f %f %f %f %f %d",
		f.ID,
		pt.X, pt.Y, pt.Z,
		ea.Roll*radToDeg, ea.Pitch*radToDeg, ea.Yaw*radToDeg,
		f.Variance, f.NumObs,
	); err != nil {
		return err
	}

	links := make([]int, 0, len(f.Links))
	for id := range f.Links {
		links = append(links, id)
	}
	sort.Ints(links)
	for _, id := range links {
		if _, err := fmt.Fprintf(w, " %d", id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// load reads the map file into the fiducial set. A missing or unreadable file
// starts the map empty; malformed lines are skipped. A pinned record makes the
// map start anchored.
func (m *Map) load(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Infow("no existing map; starting empty", "file", filename)
		} else {
			m.logger.Warnw("could not open map for read; starting empty", "file", filename, "error", err)
		}
		return
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fid, err := parseRecord(line)
		if err != nil {
			m.logger.Warnw("skipping malformed map record", "line", line, "error", err)
			continue
		}
		m.fiducials[fid.ID] = fid
		if fid.Variance == 0 {
			m.phase = phaseAnchored
			m.originID = fid.ID
		}
	}
	if err := scanner.Err(); err != nil {
		m.logger.Warnw("error reading map file", "file", filename, "error", err)
	}
	m.logger.Infow("loaded map", "fiducials", len(m.fiducials), "file", filename)
}

func parseRecord(line string) (*Fiducial, error) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return nil, errors.Errorf("expected at least 9 fields, got %d", len(fields))
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, errors.Wrap(err, "invalid fiducial id")
	}

	var vals [7]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid field %d", i+1)
		}
		vals[i] = v
	}

	numObs, err := strconv.Atoi(fields[8])
	if err != nil {
		return nil, errors.Wrap(err, "invalid observation count")
	}

	pose := spatialmath.NewPose(
		r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]},
		&spatialmath.EulerAngles{
			Roll:  vals[3] * degToRad,
			Pitch: vals[4] * degToRad,
			Yaw:   vals[5] * degToRad,
		},
	)

	f := NewFiducial(id, pose, vals[6])
	f.NumObs = numObs
	for _, tok := range fields[9:] {
		link, err := strconv.Atoi(tok)
		if err != nil {
			return nil, errors.Wrap(err, "invalid link id")
		}
		f.Links[link] = true
	}
	return f, nil
}
