// Package animate is a demo producer for the interaction side: it evaluates
// easing curves once per frame and turns them into property maps for the
// scheduler. It stops producing a target's maps once its curve finished,
// which is what lets the target settle.
package animate

import (
	"fmt"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// Spec describes one animation shared by every target.
type Spec struct {
	Duration  time.Duration
	Easing    string
	From      string // hex colour
	To        string // hex colour
	WidthFrom float64
	WidthTo   float64
	// Stagger delays the start of each successive target.
	Stagger time.Duration
}

// track is the animation of one target.
type track struct {
	target scheduler.TargetID
	start  time.Duration
	done   bool
}

// Animator computes per-frame property maps for a set of targets.
//
// CRITICAL: Not safe for concurrent use; owned by the interaction goroutine.
type Animator struct {
	duration  time.Duration
	easing    Easing
	from, to  colorful.Color
	widthFrom float64
	widthTo   float64
	tracks    []track
}

// New creates an animator for targets, starting at frame time start.
func New(spec Spec, targets []scheduler.TargetID, start time.Duration) (*Animator, error) {
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("animate: duration must be positive, got %s", spec.Duration)
	}
	easing, err := EasingByName(spec.Easing)
	if err != nil {
		return nil, err
	}
	from, err := colorful.Hex(spec.From)
	if err != nil {
		return nil, fmt.Errorf("animate: from colour: %w", err)
	}
	to, err := colorful.Hex(spec.To)
	if err != nil {
		return nil, fmt.Errorf("animate: to colour: %w", err)
	}

	a := &Animator{
		duration:  spec.Duration,
		easing:    easing,
		from:      from,
		to:        to,
		widthFrom: spec.WidthFrom,
		widthTo:   spec.WidthTo,
		tracks:    make([]track, len(targets)),
	}
	for i, id := range targets {
		a.tracks[i] = track{target: id, start: start + time.Duration(i)*spec.Stagger}
	}
	return a, nil
}

// Frame returns the updates for frame time now. A target that has not
// started yet produces nothing; a finished target produces its final map
// once and then nothing.
func (a *Animator) Frame(now time.Duration) []scheduler.Update {
	var updates []scheduler.Update
	for i := range a.tracks {
		tr := &a.tracks[i]
		if tr.done || now < tr.start {
			continue
		}
		progress := float64(now-tr.start) / float64(a.duration)
		if progress >= 1 {
			progress = 1
			tr.done = true
		}
		updates = append(updates, scheduler.Update{Target: tr.target, Props: a.At(progress)})
	}
	return updates
}

// Done reports whether every track finished.
func (a *Animator) Done() bool {
	for _, tr := range a.tracks {
		if !tr.done {
			return false
		}
	}
	return true
}

// At returns the property map at linear progress p in [0,1].
func (a *Animator) At(p float64) props.Map {
	e := a.easing(p)
	width := a.widthFrom + (a.widthTo-a.widthFrom)*e
	colour := a.from.BlendHcl(a.to, e).Clamped()

	return props.New(
		props.P("width", props.Number(round2(width))),
		props.P("backgroundColor", props.String(colour.Hex())),
		props.P("transform", props.Transform{
			props.Op("translateX", props.Number(round2(width/2))),
			props.Op("scale", props.Number(round2(1+e/10))),
		}),
	)
}

// FinalProps returns the map every target ends on.
func (a *Animator) FinalProps() props.Map {
	return a.At(1)
}

func round2(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
