package model

import "time"

// Checkpoint is an informational time marker relative to a goal deadline.
type Checkpoint struct {
	Label string    `yaml:"label" json:"label"`
	At    time.Time `yaml:"at" json:"at"`
}

var checkpointOffsets = []struct {
	label  string
	before time.Duration
}{
	{"T-120m", 120 * time.Minute},
	{"T-60m", 60 * time.Minute},
	{"T-15m", 15 * time.Minute},
	{"deadline", 0},
}

// Checkpoints returns the fixed checkpoint schedule for deadline, earliest first.
func Checkpoints(deadline time.Time) []Checkpoint {
	out := make([]Checkpoint, 0, len(checkpointOffsets))
	for _, o := range checkpointOffsets {
		out = append(out, Checkpoint{Label: o.label, At: deadline.Add(-o.before)})
	}
	return out
}

// NextCheckpoint returns the first checkpoint at or after now. ok is false
// once the deadline has passed.
func NextCheckpoint(deadline, now time.Time) (cp Checkpoint, ok bool) {
	for _, c := range Checkpoints(deadline) {
		if !c.At.Before(now) {
			return c, true
		}
	}
	return Checkpoint{}, false
}
