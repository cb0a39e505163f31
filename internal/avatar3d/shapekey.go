package avatar3d

import (
	"errors"
	"fmt"
	"time"

	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/rig"
)

// ShapeKeyPulse is the full up-and-down time of a shape key pulse.
const ShapeKeyPulse = 500 * time.Millisecond

var ErrShapeKeyReserved = errors.New("morph target is driven by lip sync")

// shapeKeys pulses arbitrary morph targets (blinks and the like), each on its
// own actuator so they never fight the mouth.
type shapeKeys struct {
	scene    rig.Scene
	root     rig.NodeHandle
	reserved string
	pulses   map[string]*player
}

func newShapeKeys(scene rig.Scene, root rig.NodeHandle, reserved string) *shapeKeys {
	return &shapeKeys{scene: scene, root: root, reserved: reserved, pulses: make(map[string]*player)}
}

// reserve hands target to lip sync. A pulse already running on it is dropped.
func (s *shapeKeys) reserve(target string) {
	s.reserved = target
	if p, ok := s.pulses[target]; ok {
		_ = p.Cancel()
		delete(s.pulses, target)
	}
}

// Pulse raises target to full weight and back over ShapeKeyPulse.
func (s *shapeKeys) Pulse(target string) error {
	if target == s.reserved && target != "" {
		return fmt.Errorf("%q: %w", target, ErrShapeKeyReserved)
	}

	p, ok := s.pulses[target]
	if !ok {
		node, found := s.findNode(target)
		if !found {
			return fmt.Errorf("%q: %w", target, rig.ErrMorphTargetNotFound)
		}
		ref := rig.NewRef(s.scene.NodeName(node), node)
		p = newPlayer(rig.BackendBlendShape, &morphActuator{scene: s.scene, ref: ref, target: target}, 0)
		s.pulses[target] = p
	}

	half := ShapeKeyPulse / 2
	return p.Play(lipsync.Timeline{
		Events: []lipsync.Event{{Label: target, Target: 1, In: half, Out: ShapeKeyPulse - half}},
		Total:  ShapeKeyPulse,
	})
}

func (s *shapeKeys) findNode(target string) (rig.NodeHandle, bool) {
	for _, n := range s.scene.Descendants(s.root) {
		for _, t := range s.scene.ListMorphTargets(n) {
			if t == target {
				return n, true
			}
		}
	}
	return 0, false
}

func (s *shapeKeys) Update(dt time.Duration) error {
	var errs []error
	for _, p := range s.pulses {
		if _, err := p.Update(dt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *shapeKeys) Cancel() {
	for _, p := range s.pulses {
		_ = p.Cancel()
	}
}
