package avatar3d

import (
	"sync"
	"time"

	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/rig"
)

// Backend drives one rig actuator through a timeline, one tick at a time.
type Backend interface {
	Kind() rig.BackendKind

	// Play cancels anything in flight, returns the actuator to neutral and
	// starts tl. An empty timeline only cancels.
	Play(tl lipsync.Timeline) error

	// Cancel stops the schedule and returns the actuator to neutral.
	Cancel() error

	// Update advances the schedule by dt. done is true once nothing is playing.
	// Timing keeps running when the rig rejects a write.
	Update(dt time.Duration) (done bool, err error)

	Active() bool

	// Generation changes on every Play and Cancel.
	Generation() uint64

	// Value is the last intensity written, in [0,1].
	Value() float64
}

// actuator writes one scalar rig channel.
type actuator interface {
	set(v float64) error
}

type morphActuator struct {
	scene  rig.Scene
	ref    *rig.Ref
	target string
}

func (a *morphActuator) set(v float64) error {
	n, err := a.ref.Get(a.scene)
	if err != nil {
		return err
	}
	return a.scene.SetMorphWeight(n, a.target, v)
}

type boneActuator struct {
	scene    rig.Scene
	ref      *rig.Ref
	axis     rig.Axis
	maxAngle float64
}

func (a *boneActuator) set(v float64) error {
	n, err := a.ref.Get(a.scene)
	if err != nil {
		return err
	}
	return a.scene.SetBoneRotation(n, a.axis, v*a.maxAngle)
}

// player runs open, hold, close cycles strictly in sequence on one actuator.
type player struct {
	mu sync.Mutex

	kind    rig.BackendKind
	act     actuator // nil keeps timing without touching the rig
	neutral float64

	gen      uint64
	timeline lipsync.Timeline
	elapsed  time.Duration
	index    int
	from     float64
	active   bool
	last     float64
}

func newPlayer(kind rig.BackendKind, act actuator, neutral float64) *player {
	neutral = clamp(neutral, 0, 1)
	return &player{kind: kind, act: act, neutral: neutral, last: neutral}
}

func (p *player) Kind() rig.BackendKind {
	return p.kind
}

func (p *player) Play(tl lipsync.Timeline) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.cancelLocked()
	if tl.Empty() {
		return err
	}

	p.timeline = tl
	p.elapsed = 0
	p.index = 0
	p.from = p.last
	p.active = true
	return err
}

func (p *player) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelLocked()
}

func (p *player) cancelLocked() error {
	p.gen++
	wasActive := p.active
	p.active = false
	p.timeline = lipsync.Timeline{}
	p.index = 0
	p.elapsed = 0

	if !wasActive && p.last == p.neutral {
		return nil
	}
	return p.apply(p.gen, p.neutral)
}

func (p *player) Update(dt time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return true, nil
	}
	gen := p.gen

	p.elapsed += dt
	events := p.timeline.Events
	for p.index < len(events) && p.elapsed >= events[p.index].End() {
		p.index++
		p.from = p.neutral
	}

	if p.index >= len(events) {
		p.active = false
		return true, p.apply(gen, p.neutral)
	}

	ev := events[p.index]
	return false, p.apply(gen, sample(ev, p.elapsed-ev.Start, p.from, p.neutral))
}

// apply writes v unless the schedule it was computed for has been replaced.
func (p *player) apply(gen uint64, v float64) error {
	if gen != p.gen {
		return nil
	}
	p.last = v
	if p.act == nil {
		return nil
	}
	return p.act.set(v)
}

func (p *player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *player) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

func (p *player) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// sample is the actuator value t into ev: eased out from `from` to the target,
// held, then eased in back to neutral.
func sample(ev lipsync.Event, t time.Duration, from, neutral float64) float64 {
	switch {
	case t < 0:
		return from
	case t < ev.In:
		return lerp(from, ev.Target, easeOutCubic(progress(t, ev.In)))
	case t < ev.In+ev.Hold:
		return ev.Target
	case t < ev.Window():
		return lerp(ev.Target, neutral, easeInCubic(progress(t-ev.In-ev.Hold, ev.Out)))
	}
	return neutral
}

// BlendShapeBackend drives a morph target weight.
type BlendShapeBackend struct {
	*player
	Target string
}

func NewBlendShapeBackend(scene rig.Scene, node *rig.Ref, target string, neutral float64) *BlendShapeBackend {
	act := &morphActuator{scene: scene, ref: node, target: target}
	return &BlendShapeBackend{player: newPlayer(rig.BackendBlendShape, act, neutral), Target: target}
}

// BoneRotationBackend rotates a jaw bone by intensity*MaxAngle radians about Axis.
type BoneRotationBackend struct {
	*player
	Axis     rig.Axis
	MaxAngle float64
}

func NewBoneRotationBackend(scene rig.Scene, bone *rig.Ref, axis rig.Axis, maxAngle, neutral float64) *BoneRotationBackend {
	act := &boneActuator{scene: scene, ref: bone, axis: axis, maxAngle: maxAngle}
	return &BoneRotationBackend{player: newPlayer(rig.BackendBoneRotation, act, neutral), Axis: axis, MaxAngle: maxAngle}
}

// noopBackend keeps timing for rigs with no usable mouth so the request
// lifecycle and speech still run.
type noopBackend struct {
	*player
}

func newNoopBackend() *noopBackend {
	return &noopBackend{player: newPlayer(rig.BackendNone, nil, 0)}
}

// NewBackend builds the backend for a resolved capability.
func NewBackend(scene rig.Scene, c rig.Capability, opts Options) Backend {
	switch c.Kind {
	case rig.BackendBlendShape:
		return NewBlendShapeBackend(scene, c.Ref(), c.Target, opts.NeutralIntensity)
	case rig.BackendBoneRotation:
		return NewBoneRotationBackend(scene, c.Ref(), opts.JawAxis, opts.MaxJawAngle, opts.NeutralIntensity)
	}
	return newNoopBackend()
}
