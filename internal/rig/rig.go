// Package rig is the lookup-only view of a character rig used by the lip-sync
// engine: named nodes, morph target channels and single-axis bone rotations.
// The engine never owns the scene graph; it keeps handles that may go stale and
// re-resolves them by name.
package rig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrNodeNotFound        = errors.New("node not found")
	ErrNodeGone            = errors.New("node no longer in scene")
	ErrMorphTargetNotFound = errors.New("morph target not found")
)

// NodeHandle identifies a node inside one Scene. Zero is never a valid handle.
type NodeHandle uint64

// Axis is a bone rotation axis.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Vec returns the unit vector for the axis.
func (a Axis) Vec() mgl32.Vec3 {
	switch a {
	case AxisY:
		return mgl32.Vec3{0, 1, 0}
	case AxisZ:
		return mgl32.Vec3{0, 0, 1}
	}
	return mgl32.Vec3{1, 0, 0}
}

func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x", "":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return AxisX, fmt.Errorf("unknown axis %q", s)
}

// Scene is what the engine needs from a host scene graph.
type Scene interface {
	Root() NodeHandle
	ResolveNamedNode(root NodeHandle, name string) (NodeHandle, bool)
	// Descendants lists root and every node below it, depth first.
	Descendants(root NodeHandle) []NodeHandle
	NodeName(n NodeHandle) string
	Valid(n NodeHandle) bool

	ListMorphTargets(n NodeHandle) []string
	MorphWeight(n NodeHandle, target string) (float64, error)
	SetMorphWeight(n NodeHandle, target string, value float64) error

	// BoneRotation is the angle in radians about axis, relative to the rest pose.
	BoneRotation(n NodeHandle, axis Axis) (float64, error)
	SetBoneRotation(n NodeHandle, axis Axis, radians float64) error
}

// BackendKind is the actuation strategy a rig supports.
type BackendKind int

const (
	BackendNone BackendKind = iota
	BackendBlendShape
	BackendBoneRotation
)

func (k BackendKind) String() string {
	switch k {
	case BackendBlendShape:
		return "blendshape"
	case BackendBoneRotation:
		return "bone"
	}
	return "none"
}

// Ref is an optional, re-resolvable reference to a named node.
type Ref struct {
	Name string

	node     NodeHandle
	resolved bool
}

func NewRef(name string, n NodeHandle) *Ref {
	return &Ref{Name: name, node: n, resolved: n != 0}
}

// Get returns the node, looking it up again by name if the cached handle went stale.
func (r *Ref) Get(s Scene) (NodeHandle, error) {
	if r.resolved && s.Valid(r.node) {
		return r.node, nil
	}

	wasResolved := r.resolved
	r.resolved = false
	if r.Name != "" {
		if n, ok := s.ResolveNamedNode(s.Root(), r.Name); ok {
			r.node = n
			r.resolved = true
			return n, nil
		}
	}

	if wasResolved {
		return 0, fmt.Errorf("%q: %w", r.Name, ErrNodeGone)
	}
	return 0, fmt.Errorf("%q: %w", r.Name, ErrNodeNotFound)
}
