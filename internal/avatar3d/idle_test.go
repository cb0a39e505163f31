package avatar3d

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/rig"
)

func headRig(t *testing.T) (*rig.Graph, rig.NodeHandle) {
	t.Helper()
	g := rig.NewGraph("Scene")
	head, err := g.AddNode(g.Root(), "Head")
	require.NoError(t, err)
	return g, head
}

func TestSwayStaysInBounds(t *testing.T) {
	g, head := headRig(t)
	sway := DefaultSwayConfig()
	sway.Seed = 42
	ha := NewHeadAnimator(g, rig.NewRef("Head", head), sway)

	for i := 0; i < 60*120; i++ {
		require.NoError(t, ha.Update(frame))
		assert.LessOrEqual(t, math.Abs(ha.SwayAngle()), sway.MaxAngle)
	}

	yaw, err := g.BoneRotation(head, rig.AxisY)
	require.NoError(t, err)
	if !ha.Busy() {
		assert.InDelta(t, ha.SwayAngle()*math.Pi/180, yaw, 1e-6)
	}
}

func TestSwayWaitsForGestures(t *testing.T) {
	g, head := headRig(t)
	sway := DefaultSwayConfig()
	sway.MinInterval = 10 * time.Millisecond
	sway.MaxInterval = 10 * time.Millisecond
	sway.Seed = 1
	ha := NewHeadAnimator(g, rig.NewRef("Head", head), sway)

	require.NoError(t, ha.Gesture(GestureShake))
	assert.True(t, ha.Busy())

	require.NoError(t, ha.Update(time.Second))
	assert.Zero(t, ha.SwayAngle(), "no sway while a gesture is queued")

	require.NoError(t, ha.Update(2*time.Second))
	assert.False(t, ha.Busy())
	yaw, _ := g.BoneRotation(head, rig.AxisY)
	assert.InDelta(t, 0, yaw, 1e-9, "shake returns to rest")
}

func TestSwayDisabled(t *testing.T) {
	g, head := headRig(t)
	sway := DefaultSwayConfig()
	sway.Enabled = false
	ha := NewHeadAnimator(g, rig.NewRef("Head", head), sway)

	require.NoError(t, ha.Update(10*time.Second))
	yaw, _ := g.BoneRotation(head, rig.AxisY)
	assert.Zero(t, yaw)
	assert.False(t, ha.Busy())
}

func TestHeadRemovedStopsQueue(t *testing.T) {
	g, head := headRig(t)
	sway := DefaultSwayConfig()
	sway.Enabled = false
	ha := NewHeadAnimator(g, rig.NewRef("Head", head), sway)

	require.NoError(t, ha.Gesture(GestureLeft))
	g.Remove(head)
	assert.Error(t, ha.Update(frame))
	assert.False(t, ha.Busy())
}
