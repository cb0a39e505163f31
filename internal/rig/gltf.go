package rig

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// LoadGLTF builds a Graph from a .gltf or .glb file. Only node names, rest
// rotations and morph target names are read; geometry is ignored.
func LoadGLTF(path string) (*Graph, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument converts an already decoded glTF document.
func FromDocument(doc *gltf.Document) (*Graph, error) {
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("no nodes in document")
	}

	rootName := "scene"
	var top []int
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil {
			idx = int(*doc.Scene)
		}
		if idx < 0 || idx >= len(doc.Scenes) {
			return nil, fmt.Errorf("scene %d out of range", idx)
		}
		scene := doc.Scenes[idx]
		if scene.Name != "" {
			rootName = scene.Name
		}
		for _, n := range scene.Nodes {
			top = append(top, int(n))
		}
	} else {
		top = orphanNodes(doc)
	}

	g := NewGraph(rootName)
	visited := make(map[int]bool, len(doc.Nodes))

	var attach func(parent NodeHandle, idx int) error
	attach = func(parent NodeHandle, idx int) error {
		if idx < 0 || idx >= len(doc.Nodes) {
			return fmt.Errorf("node index %d out of range", idx)
		}
		if visited[idx] {
			return fmt.Errorf("node %d reachable twice", idx)
		}
		visited[idx] = true

		src := doc.Nodes[idx]
		name := src.Name
		if name == "" {
			name = fmt.Sprintf("node_%d", idx)
		}
		h, err := g.AddNode(parent, name)
		if err != nil {
			return err
		}

		r := src.Rotation
		q := mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}
		if q.Len() > 0 {
			if err := g.SetRestRotation(h, q); err != nil {
				return err
			}
		}

		if src.Mesh != nil {
			mi := int(*src.Mesh)
			if mi >= 0 && mi < len(doc.Meshes) {
				if names := morphTargetNames(doc.Meshes[mi]); len(names) > 0 {
					if err := g.SetMorphTargets(h, names); err != nil {
						return err
					}
				}
			}
		}

		for _, c := range src.Children {
			if err := attach(h, int(c)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, idx := range top {
		if err := attach(g.Root(), idx); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func orphanNodes(doc *gltf.Document) []int {
	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			child[int(c)] = true
		}
	}
	var out []int
	for i := range doc.Nodes {
		if !child[i] {
			out = append(out, i)
		}
	}
	return out
}

// morphTargetNames reads mesh.extras.targetNames, falling back to target_N.
func morphTargetNames(mesh *gltf.Mesh) []string {
	count := len(mesh.Weights)
	for _, p := range mesh.Primitives {
		if len(p.Targets) > count {
			count = len(p.Targets)
		}
	}

	var named []string
	if extras, ok := mesh.Extras.(map[string]interface{}); ok {
		if targetNames, ok := extras["targetNames"].([]interface{}); ok {
			for _, name := range targetNames {
				s, _ := name.(string)
				named = append(named, s)
			}
		}
	}
	if len(named) > count {
		count = len(named)
	}

	names := make([]string, count)
	for i := range names {
		if i < len(named) && named[i] != "" {
			names[i] = named[i]
		} else {
			names[i] = fmt.Sprintf("target_%d", i)
		}
	}
	return names
}
