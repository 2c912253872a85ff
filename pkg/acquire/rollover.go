package acquire

import (
	"time"

	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/ericogr/allsky-acquire/pkg/dataset"
)

type RolloverKind string

const (
	RolloverNone   RolloverKind = ""
	RolloverDaily  RolloverKind = "daily"
	RolloverHourly RolloverKind = "hourly"
	RolloverFrames RolloverKind = "frames"
)

// Rollover decides when the loop moves to a new file pair. It is a plain
// value: copy it, Commit the copy and keep it only once the new pair opened.
type Rollover struct {
	Mode          string
	FramesPerFile int
	LastDaily     time.Time
	LastHourly    time.Time
	Seq           int
}

func NewRollover(mode string, framesPerFile int, start time.Time) Rollover {
	return Rollover{Mode: mode, FramesPerFile: framesPerFile, LastDaily: start, LastHourly: start}
}

// Check reports which rollover is due at now given the exposures already
// stored in the current pair. A daily rollover takes precedence.
func (r Rollover) Check(now time.Time, exposures int) RolloverKind {
	if now.Sub(r.LastDaily) > 24*time.Hour {
		return RolloverDaily
	}
	switch r.Mode {
	case config.RolloverFrames:
		if exposures >= r.FramesPerFile {
			return RolloverFrames
		}
	default:
		if now.Sub(r.LastHourly) > time.Hour {
			return RolloverHourly
		}
	}
	return RolloverNone
}

func (r *Rollover) Commit(kind RolloverKind, now time.Time) {
	switch kind {
	case RolloverDaily:
		r.LastDaily = now
		r.LastHourly = now
		r.Seq = 0
	case RolloverHourly:
		r.LastHourly = now
	case RolloverFrames:
		r.Seq++
	}
}

// Target is where the pair for the current state lives.
func (r Rollover) Target(root string, now time.Time) (dir, name string) {
	dir = dataset.DayDir(root, r.LastDaily)
	if r.Mode == config.RolloverFrames {
		return dir, dataset.SeqName(r.Seq)
	}
	return dir, dataset.HourName(now)
}
