package avatar3d

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/rig"
)

type recordingActuator struct {
	values []float64
}

func (a *recordingActuator) set(v float64) error {
	a.values = append(a.values, v)
	return nil
}

func oneEvent(target float64) lipsync.Timeline {
	return lipsync.Timeline{
		Events: []lipsync.Event{{Label: "a", Target: target, In: 300 * time.Millisecond, Hold: 400 * time.Millisecond, Out: 300 * time.Millisecond}},
		Total:  time.Second,
	}
}

func TestSampleShape(t *testing.T) {
	ev := oneEvent(0.8).Events[0]

	assert.Equal(t, 0.0, sample(ev, -time.Millisecond, 0, 0))
	assert.Equal(t, 0.0, sample(ev, 0, 0, 0))
	// Ease-out is ahead of linear halfway through the opening.
	assert.Greater(t, sample(ev, 150*time.Millisecond, 0, 0), 0.4)
	assert.Equal(t, 0.8, sample(ev, 300*time.Millisecond, 0, 0))
	assert.Equal(t, 0.8, sample(ev, 699*time.Millisecond, 0, 0))
	// Ease-in is behind linear halfway through the closing.
	assert.Greater(t, sample(ev, 850*time.Millisecond, 0, 0), 0.4)
	assert.Equal(t, 0.0, sample(ev, time.Second, 0, 0))
	assert.Equal(t, 0.2, sample(ev, 2*time.Second, 0, 0.2))
}

func TestPlayerEmptyTimelineIsNoop(t *testing.T) {
	act := &recordingActuator{}
	p := newPlayer(rig.BackendBlendShape, act, 0)

	require.NoError(t, p.Play(lipsync.Timeline{}))
	assert.False(t, p.Active())
	done, err := p.Update(frame)
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Empty(t, act.values)
}

func TestPlayerSequential(t *testing.T) {
	act := &recordingActuator{}
	p := newPlayer(rig.BackendBoneRotation, act, 0)

	tl := lipsync.NewBuilder(lipsync.DefaultSplit).Build(
		[]lipsync.Unit{{Label: "a"}, {Label: "o"}, {Label: "p"}}, 900*time.Millisecond, lipsync.DefaultTable())
	require.NoError(t, p.Play(tl))

	// Sample the middle of each hold.
	var holds []float64
	elapsed := time.Duration(0)
	for _, ev := range tl.Events {
		mid := ev.Start + ev.In + ev.Hold/2
		_, err := p.Update(mid - elapsed)
		require.NoError(t, err)
		elapsed = mid
		holds = append(holds, p.Value())
	}
	assert.Equal(t, []float64{tl.Events[0].Target, tl.Events[1].Target, tl.Events[2].Target}, holds)

	done, err := p.Update(time.Second)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 0.0, p.Value())
}

func TestPlayerReplayResetsToNeutral(t *testing.T) {
	act := &recordingActuator{}
	p := newPlayer(rig.BackendBlendShape, act, 0.1)

	require.NoError(t, p.Play(oneEvent(1)))
	gen := p.Generation()
	_, _ = p.Update(500 * time.Millisecond)
	assert.Equal(t, 1.0, p.Value())

	require.NoError(t, p.Play(oneEvent(0.5)))
	assert.Greater(t, p.Generation(), gen)
	assert.Equal(t, 0.1, act.values[len(act.values)-1], "neutral written before the new schedule")

	_, _ = p.Update(500 * time.Millisecond)
	assert.Equal(t, 0.5, p.Value())
}

func TestPlayerCancel(t *testing.T) {
	act := &recordingActuator{}
	p := newPlayer(rig.BackendBlendShape, act, 0)

	require.NoError(t, p.Cancel())
	assert.Empty(t, act.values, "idle cancel does not touch the rig")

	require.NoError(t, p.Play(oneEvent(1)))
	_, _ = p.Update(400 * time.Millisecond)
	require.NoError(t, p.Cancel())
	n := len(act.values)
	assert.Equal(t, 0.0, act.values[n-1])

	done, _ := p.Update(100 * time.Millisecond)
	assert.True(t, done)
	assert.Len(t, act.values, n, "nothing written after cancel")
}

func TestNewBackendKinds(t *testing.T) {
	g := rig.NewGraph("Scene")
	opts := DefaultOptions()

	assert.Equal(t, rig.BackendBlendShape, NewBackend(g, rig.Capability{Kind: rig.BackendBlendShape, Target: "jawOpen"}, opts).Kind())
	assert.Equal(t, rig.BackendBoneRotation, NewBackend(g, rig.Capability{Kind: rig.BackendBoneRotation}, opts).Kind())
	assert.Equal(t, rig.BackendNone, NewBackend(g, rig.Capability{}, opts).Kind())
}

func TestBlendShapeBackendReportsMissingNode(t *testing.T) {
	g := rig.NewGraph("Scene")
	b := NewBlendShapeBackend(g, rig.NewRef("Face", 0), "jawOpen", 0)

	require.NoError(t, b.Play(oneEvent(1)))
	_, err := b.Update(frame)
	assert.ErrorIs(t, err, rig.ErrNodeNotFound)
	assert.True(t, b.Active(), "timing continues")
}
