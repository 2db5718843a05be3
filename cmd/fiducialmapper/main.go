// Package main contains a command to replay a fiducial detection log through
// the map, printing fused observer poses and leaving an updated map file.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/fiducialmap/fiducial"
	"go.viam.com/fiducialmap/spatialmath"
)

var logger = golog.NewDevelopmentLogger("fiducialmapper")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	DetectionsFile string `flag:"0,required,usage=detection log (JSON lines, one frame per line)"`
	MapFile        string `flag:"map,default=map.txt,usage=path of the map file to load and update"`
}

// frameRecord is one line of the detection log.
type frameRecord struct {
	Time       time.Time         `json:"time"`
	Detections []detectionRecord `json:"detections"`
}

// detectionRecord is a raw detector output: translation, rotation in the
// detector's camera-local convention (angles in radians), and error scores.
type detectionRecord struct {
	ID          int     `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Roll        float64 `json:"roll"`
	Pitch       float64 `json:"pitch"`
	Yaw         float64 `json:"yaw"`
	ImageError  float64 `json:"image_error"`
	ObjectError float64 `json:"object_error"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	return replay(ctx, argsParsed, logger)
}

func replay(ctx context.Context, args Arguments, logger golog.Logger) error {
	f, err := os.Open(args.DetectionsFile)
	if err != nil {
		return errors.Wrap(err, "could not open detection log")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	m := fiducial.NewMap(args.MapFile, &fiducial.LogPublisher{Logger: logger}, logger)

	frames := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec frameRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warnw("skipping malformed frame", "error", err)
			continue
		}
		m.Update(observations(rec), rec.Time)
		frames++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "error reading detection log")
	}

	logger.Infow("replay finished", "frames", frames, "fiducials", m.Len())
	return nil
}

func observations(rec frameRecord) []fiducial.Observation {
	obs := make([]fiducial.Observation, 0, len(rec.Detections))
	for _, d := range rec.Detections {
		obs = append(obs, fiducial.NewObservation(
			d.ID,
			&spatialmath.EulerAngles{Roll: d.Roll, Pitch: d.Pitch, Yaw: d.Yaw},
			r3.Vector{X: d.X, Y: d.Y, Z: d.Z},
			d.ImageError,
			d.ObjectError,
		))
	}
	return obs
}
