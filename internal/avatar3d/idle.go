package avatar3d

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/normanking/cortexlipsync/internal/rig"
)

var ErrUnknownGesture = errors.New("unknown head gesture")

// SwayConfig controls the idle head sway.
type SwayConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	MaxStep     float64       `mapstructure:"max_step"`  // degrees per move
	MaxAngle    float64       `mapstructure:"max_angle"` // degrees from rest
	MoveTime    time.Duration `mapstructure:"move_time"`
	Seed        int64         `mapstructure:"seed"` // 0 seeds from the clock
}

func DefaultSwayConfig() SwayConfig {
	return SwayConfig{
		Enabled:     true,
		MinInterval: 2 * time.Second,
		MaxInterval: 5 * time.Second,
		MaxStep:     10,
		MaxAngle:    15,
		MoveTime:    time.Second,
	}
}

// Gesture names
const (
	GestureLeft  = "left"
	GestureRight = "right"
	GestureNod   = "nod"
	GestureShake = "shake"
)

// headMove rotates the head by delta radians about axis over duration,
// relative to wherever it is.
type headMove struct {
	axis     rig.Axis
	delta    float64
	duration time.Duration
	elapsed  time.Duration
	applied  float64
}

// HeadAnimator runs gestures and idle sway on the head node. It is a
// separate actuator from the mouth.
type HeadAnimator struct {
	scene rig.Scene
	head  *rig.Ref

	queue []*headMove

	sway      SwayConfig
	rng       *rand.Rand
	swayWait  time.Duration
	swayAngle float64 // degrees of yaw added by sway so far
}

func NewHeadAnimator(scene rig.Scene, head *rig.Ref, sway SwayConfig) *HeadAnimator {
	seed := sway.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if sway.MaxInterval < sway.MinInterval {
		sway.MaxInterval = sway.MinInterval
	}
	ha := &HeadAnimator{
		scene: scene,
		head:  head,
		sway:  sway,
		rng:   rand.New(rand.NewSource(seed)),
	}
	ha.swayWait = ha.nextInterval()
	return ha
}

func (ha *HeadAnimator) nextInterval() time.Duration {
	span := ha.sway.MaxInterval - ha.sway.MinInterval
	if span <= 0 {
		return ha.sway.MinInterval
	}
	return ha.sway.MinInterval + time.Duration(ha.rng.Int63n(int64(span)+1))
}

// Gesture queues a named gesture after anything already queued.
func (ha *HeadAnimator) Gesture(name string) error {
	deg := func(d float64) float64 { return d * math.Pi / 180 }
	half := 500 * time.Millisecond

	switch strings.ToLower(name) {
	case GestureLeft:
		ha.enqueue(rig.AxisY, deg(15), 2*time.Second)
	case GestureRight:
		ha.enqueue(rig.AxisY, deg(-15), 2*time.Second)
	case GestureNod:
		for i := 0; i < 3; i++ {
			ha.enqueue(rig.AxisX, deg(10), half)
			ha.enqueue(rig.AxisX, deg(-10), half)
		}
	case GestureShake:
		for i := 0; i < 3; i++ {
			ha.enqueue(rig.AxisY, deg(10), half)
			ha.enqueue(rig.AxisY, deg(-10), half)
		}
	default:
		return fmt.Errorf("%q: %w", name, ErrUnknownGesture)
	}
	return nil
}

func (ha *HeadAnimator) enqueue(axis rig.Axis, delta float64, d time.Duration) {
	ha.queue = append(ha.queue, &headMove{axis: axis, delta: delta, duration: d})
}

// Busy reports whether a gesture or sway move is running.
func (ha *HeadAnimator) Busy() bool {
	return len(ha.queue) > 0
}

// Update advances queued moves. Sway only starts while the queue is empty.
func (ha *HeadAnimator) Update(dt time.Duration) error {
	if len(ha.queue) == 0 {
		ha.updateSway(dt)
	}

	for dt > 0 && len(ha.queue) > 0 {
		m := ha.queue[0]
		step := m.duration - m.elapsed
		if dt < step {
			step = dt
		}
		dt -= step
		m.elapsed += step

		target := m.delta * easeInOutCubic(progress(m.elapsed, m.duration))
		if err := ha.rotate(m.axis, target-m.applied); err != nil {
			ha.queue = nil
			return err
		}
		m.applied = target

		if m.elapsed >= m.duration {
			ha.queue = ha.queue[1:]
		}
	}
	return nil
}

func (ha *HeadAnimator) updateSway(dt time.Duration) {
	if !ha.sway.Enabled {
		return
	}
	ha.swayWait -= dt
	if ha.swayWait > 0 {
		return
	}
	ha.swayWait = ha.nextInterval()

	angle := (ha.rng.Float64()*2 - 1) * ha.sway.MaxStep
	if math.Abs(ha.swayAngle+angle) > ha.sway.MaxAngle {
		angle = -angle
	}
	ha.swayAngle += angle
	ha.enqueue(rig.AxisY, angle*math.Pi/180, ha.sway.MoveTime)
}

func (ha *HeadAnimator) rotate(axis rig.Axis, delta float64) error {
	if delta == 0 {
		return nil
	}
	n, err := ha.head.Get(ha.scene)
	if err != nil {
		return err
	}
	cur, err := ha.scene.BoneRotation(n, axis)
	if err != nil {
		return err
	}
	return ha.scene.SetBoneRotation(n, axis, cur+delta)
}

// SwayAngle is the accumulated idle yaw in degrees.
func (ha *HeadAnimator) SwayAngle() float64 {
	return ha.swayAngle
}
