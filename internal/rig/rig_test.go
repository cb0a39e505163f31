package rig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHead(t *testing.T) (*Graph, NodeHandle, NodeHandle) {
	t.Helper()
	g := NewGraph("Scene")
	body, err := g.AddNode(g.Root(), "CC_Base_Body")
	require.NoError(t, err)
	head, err := g.AddNode(body, "CC_Base_Head")
	require.NoError(t, err)
	jaw, err := g.AddNode(head, DefaultJawBoneName)
	require.NoError(t, err)
	return g, head, jaw
}

func TestGraphResolveAndDescendants(t *testing.T) {
	g, head, jaw := buildHead(t)

	n, ok := g.ResolveNamedNode(g.Root(), DefaultJawBoneName)
	require.True(t, ok)
	assert.Equal(t, jaw, n)

	_, ok = g.ResolveNamedNode(g.Root(), "missing")
	assert.False(t, ok)

	desc := g.Descendants(head)
	assert.Equal(t, []NodeHandle{head, jaw}, desc)
	assert.Len(t, g.Descendants(g.Root()), 4)
}

func TestGraphMorphWeights(t *testing.T) {
	g, head, _ := buildHead(t)
	require.NoError(t, g.SetMorphTargets(head, []string{"jawOpen", "eyeBlinkLeft"}))

	assert.Equal(t, []string{"jawOpen", "eyeBlinkLeft"}, g.ListMorphTargets(head))

	require.NoError(t, g.SetMorphWeight(head, "jawOpen", 0.7))
	w, err := g.MorphWeight(head, "jawOpen")
	require.NoError(t, err)
	assert.Equal(t, 0.7, w)

	require.NoError(t, g.SetMorphWeight(head, "jawOpen", 3))
	w, _ = g.MorphWeight(head, "jawOpen")
	assert.Equal(t, 1.0, w)

	err = g.SetMorphWeight(head, "nope", 0.5)
	assert.ErrorIs(t, err, ErrMorphTargetNotFound)
}

func TestGraphBoneRotation(t *testing.T) {
	g, _, jaw := buildHead(t)

	require.NoError(t, g.SetBoneRotation(jaw, AxisX, 0.3))
	a, err := g.BoneRotation(jaw, AxisX)
	require.NoError(t, err)
	assert.Equal(t, 0.3, a)

	q, err := g.Rotation(jaw)
	require.NoError(t, err)
	want := mgl32.QuatRotate(0.3, mgl32.Vec3{1, 0, 0})
	assert.True(t, q.ApproxEqualThreshold(want, 1e-5))
}

func TestGraphRemoveInvalidatesSubtree(t *testing.T) {
	g, head, jaw := buildHead(t)

	g.Remove(head)
	assert.False(t, g.Valid(head))
	assert.False(t, g.Valid(jaw))
	assert.True(t, g.Valid(g.Root()))

	err := g.SetBoneRotation(jaw, AxisX, 0.1)
	assert.ErrorIs(t, err, ErrNodeGone)
}

func TestRefReresolves(t *testing.T) {
	g, head, jaw := buildHead(t)
	ref := NewRef(DefaultJawBoneName, jaw)

	n, err := ref.Get(g)
	require.NoError(t, err)
	assert.Equal(t, jaw, n)

	// Rig reloaded: same name, new handle.
	g.Remove(jaw)
	jaw2, err := g.AddNode(head, DefaultJawBoneName)
	require.NoError(t, err)

	n, err = ref.Get(g)
	require.NoError(t, err)
	assert.Equal(t, jaw2, n)

	g.Remove(head)
	_, err = ref.Get(g)
	assert.ErrorIs(t, err, ErrNodeGone)

	_, err = NewRef("never", 0).Get(g)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestParseAxis(t *testing.T) {
	tests := []struct {
		in      string
		want    Axis
		wantErr bool
	}{
		{"x", AxisX, false},
		{"Y", AxisY, false},
		{" z ", AxisZ, false},
		{"", AxisX, false},
		{"w", AxisX, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAxis(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolverPrefersMorphTargets(t *testing.T) {
	g, head, _ := buildHead(t)
	require.NoError(t, g.SetMorphTargets(head, []string{"eyeBlinkLeft", "JawOpen"}))

	c := NewResolver("", "", zerolog.Nop()).Resolve(g, g.Root())
	assert.Equal(t, BackendBlendShape, c.Kind)
	assert.Equal(t, head, c.Node)
	assert.Equal(t, "JawOpen", c.Target)
	assert.Equal(t, "CC_Base_Head", c.NodeName)
}

func TestResolverExplicitTarget(t *testing.T) {
	g, head, _ := buildHead(t)
	require.NoError(t, g.SetMorphTargets(head, []string{"jawOpen", "V_Open"}))

	c := NewResolver("", "V_Open", zerolog.Nop()).Resolve(g, g.Root())
	assert.Equal(t, "V_Open", c.Target)

	c = NewResolver("", "missing", zerolog.Nop()).Resolve(g, g.Root())
	assert.Equal(t, "jawOpen", c.Target)
}

func TestResolverFirstTargetFallback(t *testing.T) {
	g, head, _ := buildHead(t)
	require.NoError(t, g.SetMorphTargets(head, []string{"Key 1", "Key 2"}))

	c := NewResolver("", "", zerolog.Nop()).Resolve(g, g.Root())
	assert.Equal(t, BackendBlendShape, c.Kind)
	assert.Equal(t, "Key 1", c.Target)
}

func TestResolverJawBone(t *testing.T) {
	g, _, jaw := buildHead(t)

	c := NewResolver("", "", zerolog.Nop()).Resolve(g, g.Root())
	assert.Equal(t, BackendBoneRotation, c.Kind)
	assert.Equal(t, jaw, c.Node)
	assert.Empty(t, c.Target)
}

func TestResolverNone(t *testing.T) {
	g := NewGraph("Scene")
	_, err := g.AddNode(g.Root(), "Body")
	require.NoError(t, err)

	c := NewResolver("Jaw", "", zerolog.Nop()).Resolve(g, g.Root())
	assert.Equal(t, BackendNone, c.Kind)
	assert.Equal(t, "none", c.Kind.String())
}

const testGLTF = `{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"name": "Avatar", "nodes": [0]}],
  "nodes": [
    {"name": "Armature", "children": [1, 2]},
    {"name": "Head", "mesh": 0},
    {"name": "CC_Base_JawRoot", "rotation": [0.0, 0.0, 0.0, 1.0]}
  ],
  "meshes": [{
    "primitives": [{"attributes": {"POSITION": 0}, "targets": [{"POSITION": 1}, {"POSITION": 2}]}],
    "weights": [0, 0],
    "extras": {"targetNames": ["jawOpen", "eyeBlinkLeft"]}
  }]
}`

func TestLoadGLTF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avatar.gltf")
	require.NoError(t, os.WriteFile(path, []byte(testGLTF), 0o644))

	g, err := LoadGLTF(path)
	require.NoError(t, err)

	assert.Equal(t, "Avatar", g.NodeName(g.Root()))

	head, ok := g.ResolveNamedNode(g.Root(), "Head")
	require.True(t, ok)
	assert.Equal(t, []string{"jawOpen", "eyeBlinkLeft"}, g.ListMorphTargets(head))

	_, ok = g.ResolveNamedNode(g.Root(), "CC_Base_JawRoot")
	assert.True(t, ok)

	info := g.Inspect()
	require.Len(t, info, 4)
	assert.Equal(t, "Armature", info[1].Name)
	assert.Equal(t, 1, info[1].Depth)
	assert.Equal(t, 2, info[2].Depth)
}

func TestLoadGLTFMissingFile(t *testing.T) {
	_, err := LoadGLTF(filepath.Join(t.TempDir(), "missing.glb"))
	assert.Error(t, err)
}
