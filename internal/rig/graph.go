package rig

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

type graphNode struct {
	name     string
	parent   NodeHandle
	children []NodeHandle

	targets []string
	weights []float64

	rest   mgl32.Quat
	angles [3]float64
}

// Graph is an in-memory Scene. Hosts without their own scene graph (the CLI,
// tests, glTF files) use it directly.
type Graph struct {
	mu    sync.RWMutex
	nodes map[NodeHandle]*graphNode
	next  NodeHandle
	root  NodeHandle
}

func NewGraph(rootName string) *Graph {
	g := &Graph{nodes: make(map[NodeHandle]*graphNode)}
	g.root = g.add(0, rootName)
	return g
}

func (g *Graph) add(parent NodeHandle, name string) NodeHandle {
	g.next++
	h := g.next
	g.nodes[h] = &graphNode{name: name, parent: parent, rest: mgl32.QuatIdent()}
	if p, ok := g.nodes[parent]; ok {
		p.children = append(p.children, h)
	}
	return h
}

// AddNode creates a child of parent.
func (g *Graph) AddNode(parent NodeHandle, name string) (NodeHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[parent]; !ok {
		return 0, fmt.Errorf("parent %d: %w", parent, ErrNodeGone)
	}
	return g.add(parent, name), nil
}

// SetMorphTargets replaces the node's morph channels; all weights start at zero.
func (g *Graph) SetMorphTargets(n NodeHandle, names []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, err := g.get(n)
	if err != nil {
		return err
	}
	node.targets = append([]string(nil), names...)
	node.weights = make([]float64, len(names))
	return nil
}

func (g *Graph) SetRestRotation(n NodeHandle, q mgl32.Quat) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, err := g.get(n)
	if err != nil {
		return err
	}
	node.rest = q.Normalize()
	return nil
}

// Rotation is the node's composed local rotation: rest * Rx * Ry * Rz.
func (g *Graph) Rotation(n NodeHandle) (mgl32.Quat, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, err := g.get(n)
	if err != nil {
		return mgl32.QuatIdent(), err
	}
	q := node.rest
	for _, axis := range []Axis{AxisX, AxisY, AxisZ} {
		q = q.Mul(mgl32.QuatRotate(float32(node.angles[axis]), axis.Vec()))
	}
	return q.Normalize(), nil
}

// Remove deletes n and its subtree. Outstanding handles become invalid.
func (g *Graph) Remove(n NodeHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[n]
	if !ok || n == g.root {
		return
	}
	if p, ok := g.nodes[node.parent]; ok {
		for i, c := range p.children {
			if c == n {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
	g.removeTree(n)
}

func (g *Graph) removeTree(n NodeHandle) {
	node, ok := g.nodes[n]
	if !ok {
		return
	}
	for _, c := range node.children {
		g.removeTree(c)
	}
	delete(g.nodes, n)
}

func (g *Graph) get(n NodeHandle) (*graphNode, error) {
	node, ok := g.nodes[n]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", n, ErrNodeGone)
	}
	return node, nil
}

func (g *Graph) Root() NodeHandle {
	return g.root
}

func (g *Graph) ResolveNamedNode(root NodeHandle, name string) (NodeHandle, bool) {
	for _, n := range g.Descendants(root) {
		if g.NodeName(n) == name {
			return n, true
		}
	}
	return 0, false
}

func (g *Graph) Descendants(root NodeHandle) []NodeHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []NodeHandle
	var walk func(NodeHandle)
	walk = func(h NodeHandle) {
		node, ok := g.nodes[h]
		if !ok {
			return
		}
		out = append(out, h)
		for _, c := range node.children {
			walk(c)
		}
	}
	walk(root)
	return out
}

func (g *Graph) NodeName(n NodeHandle) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if node, ok := g.nodes[n]; ok {
		return node.name
	}
	return ""
}

func (g *Graph) Valid(n NodeHandle) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[n]
	return ok
}

func (g *Graph) ListMorphTargets(n NodeHandle) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[n]
	if !ok {
		return nil
	}
	return append([]string(nil), node.targets...)
}

func (g *Graph) targetIndex(node *graphNode, target string) (int, error) {
	for i, t := range node.targets {
		if t == target {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%q on %q: %w", target, node.name, ErrMorphTargetNotFound)
}

func (g *Graph) MorphWeight(n NodeHandle, target string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, err := g.get(n)
	if err != nil {
		return 0, err
	}
	i, err := g.targetIndex(node, target)
	if err != nil {
		return 0, err
	}
	return node.weights[i], nil
}

// SetMorphWeight clamps value to [0,1].
func (g *Graph) SetMorphWeight(n NodeHandle, target string, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, err := g.get(n)
	if err != nil {
		return err
	}
	i, err := g.targetIndex(node, target)
	if err != nil {
		return err
	}
	node.weights[i] = clamp(value, 0, 1)
	return nil
}

func (g *Graph) BoneRotation(n NodeHandle, axis Axis) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, err := g.get(n)
	if err != nil {
		return 0, err
	}
	if axis < AxisX || axis > AxisZ {
		return 0, fmt.Errorf("bone rotation: unknown %v", axis)
	}
	return node.angles[axis], nil
}

func (g *Graph) SetBoneRotation(n NodeHandle, axis Axis, radians float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, err := g.get(n)
	if err != nil {
		return err
	}
	if axis < AxisX || axis > AxisZ {
		return fmt.Errorf("bone rotation: unknown %v", axis)
	}
	node.angles[axis] = radians
	return nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NodeInfo is one line of a rig listing.
type NodeInfo struct {
	Name         string   `json:"name"`
	Depth        int      `json:"depth"`
	MorphTargets []string `json:"morph_targets,omitempty"`
}

// Inspect lists every node under the root, depth first.
func (g *Graph) Inspect() []NodeInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []NodeInfo
	var walk func(h NodeHandle, depth int)
	walk = func(h NodeHandle, depth int) {
		node, ok := g.nodes[h]
		if !ok {
			return
		}
		out = append(out, NodeInfo{
			Name:         node.name,
			Depth:        depth,
			MorphTargets: append([]string(nil), node.targets...),
		})
		for _, c := range node.children {
			walk(c, depth+1)
		}
	}
	walk(g.root, 0)
	return out
}
