package avatar3d

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/metrics"
	"github.com/normanking/cortexlipsync/internal/rig"
)

// Warnings reported on SpeakResult. None of them stop speech.
var (
	ErrMissingRigCapability = errors.New("rig has no morph target or jaw bone")
	ErrEmptyInput           = errors.New("text has nothing to articulate")
	ErrRequestSuperseded    = errors.New("previous request superseded")
	ErrNotAttached          = errors.New("no rig attached")
)

// State of the active request.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StatePlaying
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "idle"
}

// JawTestPhase is the open and close time of the jaw test animation.
const JawTestPhase = 300 * time.Millisecond

// Options configures a Coordinator.
type Options struct {
	Rate             lipsync.RateConfig
	Split            lipsync.Split
	NeutralIntensity float64
	MaxJawAngle      float64
	JawAxis          rig.Axis
	JawBoneName      string
	MorphTarget      string
	HeadNodeName     string
	Sway             SwayConfig
	// SpeakEmptyText still sends text with no articulation units to the
	// speech engine.
	SpeakEmptyText bool
}

func DefaultOptions() Options {
	return Options{
		Rate:         lipsync.DefaultRateConfig(),
		Split:        lipsync.DefaultSplit,
		MaxJawAngle:  0.3,
		JawAxis:      rig.AxisX,
		JawBoneName:  rig.DefaultJawBoneName,
		HeadNodeName: "CC_Base_Head",
		Sway:         DefaultSwayConfig(),
	}
}

// SpeechTrigger starts speech a short lead after the mouth starts moving.
type SpeechTrigger interface {
	Arm(id, text string)
	Cancel()
	Update(dt time.Duration)
}

// SpeakRequest is one utterance.
type SpeakRequest struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	RequestedAt time.Time `json:"requested_at"`
}

// SpeakResult describes what Speak did with a request.
type SpeakResult struct {
	Request  SpeakRequest
	Timeline lipsync.Timeline
	Backend  rig.BackendKind
	State    State
	Warnings []error
}

// Err joins the warnings, nil when there are none.
func (r SpeakResult) Err() error {
	return errors.Join(r.Warnings...)
}

// Status is a read-only snapshot for status endpoints.
type Status struct {
	State     string `json:"state"`
	RequestID string `json:"request_id,omitempty"`
	Backend   string `json:"backend"`
	Node      string `json:"node,omitempty"`
	Target    string `json:"target,omitempty"`
	Attached  bool   `json:"attached"`
	HeadBusy  bool   `json:"head_busy"`
	Queued    int    `json:"queued"`
}

// Coordinator owns the single active timeline for one rig. Speak, Update and
// Attach belong to the host's update goroutine; other goroutines use
// OnSpeakRequested or Commands.
type Coordinator struct {
	mu sync.Mutex

	opts     Options
	logger   zerolog.Logger
	builder  *lipsync.Builder
	resolver *rig.Resolver
	trigger  SpeechTrigger
	commands *bus.CommandQueue
	events   *bus.EventBus

	table atomic.Pointer[lipsync.Table]
	rate  atomic.Pointer[lipsync.RateConfig]

	scene        rig.Scene
	root         rig.NodeHandle
	capability   rig.Capability
	backend      Backend
	needsResolve bool
	head         *HeadAnimator
	keys         *shapeKeys

	state       State
	active      *SpeakRequest
	rigReported bool
}

func NewCoordinator(opts Options, trigger SpeechTrigger, events *bus.EventBus, logger zerolog.Logger) *Coordinator {
	if events == nil {
		events = bus.NewEventBus()
	}
	if opts.MaxJawAngle <= 0 {
		opts.MaxJawAngle = 0.3
	}
	opts.NeutralIntensity = clamp(opts.NeutralIntensity, 0, 1)

	c := &Coordinator{
		opts:     opts,
		logger:   logger.With().Str("component", "lipsync").Logger(),
		builder:  lipsync.NewBuilder(opts.Split),
		resolver: rig.NewResolver(opts.JawBoneName, opts.MorphTarget, logger),
		trigger:  trigger,
		commands: bus.NewCommandQueue(0),
		events:   events,
		backend:  newNoopBackend(),
	}
	c.table.Store(lipsync.DefaultTable())
	rate := opts.Rate
	c.rate.Store(&rate)
	return c
}

// SetTable swaps the articulation table for future requests.
func (c *Coordinator) SetTable(t *lipsync.Table) {
	if t != nil {
		c.table.Store(t)
	}
}

func (c *Coordinator) Table() *lipsync.Table {
	return c.table.Load()
}

// SetRate swaps the speaking-rate configuration for future requests.
func (c *Coordinator) SetRate(r lipsync.RateConfig) {
	c.rate.Store(&r)
}

func (c *Coordinator) Events() *bus.EventBus {
	return c.events
}

func (c *Coordinator) Commands() *bus.CommandQueue {
	return c.commands
}

// Attach resolves the rig's capability once and caches the backend. Attaching
// again replaces the rig and cancels the active request.
func (c *Coordinator) Attach(scene rig.Scene, root rig.NodeHandle) rig.Capability {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.cancelLocked("rig replaced")
		c.setStateLocked(StateIdle)
	}
	if c.keys != nil {
		c.keys.Cancel()
	}

	c.scene = scene
	c.root = root
	c.resolveLocked()

	c.head = nil
	if c.opts.HeadNodeName != "" {
		if n, ok := scene.ResolveNamedNode(root, c.opts.HeadNodeName); ok {
			c.head = NewHeadAnimator(scene, rig.NewRef(c.opts.HeadNodeName, n), c.opts.Sway)
		} else {
			c.logger.Info().Str("head", c.opts.HeadNodeName).Msg("Head node not found, gestures disabled")
		}
	}
	c.keys = newShapeKeys(scene, root, c.capability.Target)

	c.events.Publish(bus.Event{Type: bus.EventTypeRigAttached, Data: map[string]any{
		"backend": c.capability.Kind.String(),
		"node":    c.capability.NodeName,
		"target":  c.capability.Target,
		"head":    c.head != nil,
	}})
	return c.capability
}

func (c *Coordinator) resolveLocked() {
	c.capability = c.resolver.Resolve(c.scene, c.root)
	c.backend = NewBackend(c.scene, c.capability, c.opts)
	c.needsResolve = false
	if c.keys != nil {
		c.keys.reserve(c.capability.Target)
	}
	metrics.SetBackend(c.capability.Kind.String())
}

// Capability is the cached resolver result.
func (c *Coordinator) Capability() rig.Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capability
}

// OnSpeakRequested is the entry point for other goroutines. The request runs
// on the next Update.
func (c *Coordinator) OnSpeakRequested(text string) error {
	return c.commands.Post(bus.Command{Type: bus.CommandSpeak, Text: text})
}

// Speak schedules text, replacing any active request. It never blocks.
func (c *Coordinator) Speak(text string) SpeakResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speakLocked(text)
}

func (c *Coordinator) speakLocked(text string) SpeakResult {
	req := SpeakRequest{ID: uuid.NewString(), Text: text, RequestedAt: time.Now()}
	res := SpeakResult{Request: req}

	if c.active != nil {
		c.cancelLocked("superseded")
		res.Warnings = append(res.Warnings, ErrRequestSuperseded)
	}

	if strings.TrimSpace(text) == "" {
		return c.rejectLocked(res, ErrEmptyInput)
	}

	units := lipsync.Extract(text)
	dur := lipsync.EstimateDuration(text, *c.rate.Load())
	tl := c.builder.Build(units, dur, c.table.Load())
	res.Timeline = tl

	if tl.Empty() {
		res.Warnings = append(res.Warnings, ErrEmptyInput)
		if !c.opts.SpeakEmptyText {
			return c.rejectLocked(res, nil)
		}
	}

	if c.scene != nil && c.needsResolve {
		c.resolveLocked()
	}
	if c.capability.Kind == rig.BackendNone {
		res.Warnings = append(res.Warnings, ErrMissingRigCapability)
	}
	res.Backend = c.backend.Kind()

	c.rigReported = false
	if err := c.backend.Play(tl); err != nil {
		c.rigErrorLocked(err)
	}
	c.active = &req
	c.setStateLocked(StateScheduled)
	if c.trigger != nil {
		c.trigger.Arm(req.ID, text)
	}

	metrics.SpeakRequests.WithLabelValues("scheduled").Inc()
	metrics.EstimatedDuration.Observe(dur.Seconds())
	metrics.TimelineUnits.Observe(float64(len(tl.Events)))
	metrics.ActiveTimelines.Set(1)

	c.logger.Debug().
		Str("request", req.ID).
		Int("words", lipsync.CountWords(text)).
		Int("units", len(units)).
		Dur("duration", dur).
		Str("backend", res.Backend.String()).
		Msg("Speak scheduled")

	res.State = c.state
	return res
}

func (c *Coordinator) rejectLocked(res SpeakResult, warn error) SpeakResult {
	if warn != nil {
		res.Warnings = append(res.Warnings, warn)
	}
	c.setStateLocked(StateIdle)
	res.State = StateIdle
	metrics.SpeakRequests.WithLabelValues("rejected").Inc()
	c.events.Publish(bus.Event{Type: bus.EventTypeSpeakRejected, Data: map[string]any{
		"request": res.Request.ID,
		"reason":  res.Err().Error(),
	}})
	return res
}

// JawTest opens and closes the mouth twice at full intensity. It replaces any
// active request and speaks nothing.
func (c *Coordinator) JawTest() SpeakResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jawTestLocked()
}

func (c *Coordinator) jawTestLocked() SpeakResult {
	req := SpeakRequest{ID: uuid.NewString(), RequestedAt: time.Now()}
	res := SpeakResult{Request: req}
	if c.active != nil {
		c.cancelLocked("superseded")
		res.Warnings = append(res.Warnings, ErrRequestSuperseded)
	}
	if c.capability.Kind == rig.BackendNone {
		res.Warnings = append(res.Warnings, ErrMissingRigCapability)
	}

	var tl lipsync.Timeline
	for i := 0; i < 2; i++ {
		tl.Events = append(tl.Events, lipsync.Event{
			Label:  "test",
			Target: 1,
			Start:  time.Duration(i) * 2 * JawTestPhase,
			In:     JawTestPhase,
			Out:    JawTestPhase,
		})
	}
	tl.Total = 4 * JawTestPhase

	c.rigReported = false
	if err := c.backend.Play(tl); err != nil {
		c.rigErrorLocked(err)
	}
	c.active = &req
	c.setStateLocked(StateScheduled)

	res.Timeline = tl
	res.Backend = c.backend.Kind()
	res.State = c.state
	return res
}

// Stop cancels the active request and returns to Idle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	if c.active != nil {
		c.cancelLocked("stopped")
		c.setStateLocked(StateIdle)
	}
}

func (c *Coordinator) cancelLocked(reason string) {
	if err := c.backend.Cancel(); err != nil {
		c.rigErrorLocked(err)
	}
	if c.trigger != nil {
		c.trigger.Cancel()
	}

	id := c.active.ID
	c.active = nil
	c.setStateLocked(StateCancelled, "reason", reason, "request", id)
	metrics.SpeakRequests.WithLabelValues("cancelled").Inc()
	metrics.ActiveTimelines.Set(0)
}

// ShapeKey pulses a morph target other than the lip-sync one.
func (c *Coordinator) ShapeKey(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shapeKeyLocked(target)
}

func (c *Coordinator) shapeKeyLocked(target string) error {
	if c.keys == nil {
		return ErrNotAttached
	}
	if err := c.keys.Pulse(target); err != nil {
		return err
	}
	c.events.Publish(bus.Event{Type: bus.EventTypeShapeKeyPulse, Data: map[string]any{"target": target}})
	return nil
}

// HeadGesture queues left, right, nod or shake on the head node.
func (c *Coordinator) HeadGesture(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headGestureLocked(name)
}

func (c *Coordinator) headGestureLocked(name string) error {
	if c.head == nil {
		return ErrMissingRigCapability
	}
	if err := c.head.Gesture(name); err != nil {
		return err
	}
	c.events.Publish(bus.Event{Type: bus.EventTypeHeadGesture, Data: map[string]any{"gesture": name}})
	return nil
}

// Update runs queued commands and advances every actuator by dt. Call it once
// per host frame.
func (c *Coordinator) Update(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cmd := range c.commands.Drain() {
		c.executeLocked(cmd)
	}

	if c.state == StateScheduled {
		c.setStateLocked(StatePlaying, "request", c.active.ID)
	}
	if c.trigger != nil {
		c.trigger.Update(dt)
	}

	if c.state == StatePlaying {
		done, err := c.backend.Update(dt)
		if err != nil {
			c.rigErrorLocked(err)
		}
		if done {
			id := c.active.ID
			c.active = nil
			c.setStateLocked(StateCompleted, "request", id)
			c.setStateLocked(StateIdle)
			metrics.SpeakRequests.WithLabelValues("completed").Inc()
			metrics.ActiveTimelines.Set(0)
		}
	}

	if c.head != nil {
		if err := c.head.Update(dt); err != nil {
			c.logger.Warn().Err(err).Msg("Head animation stopped")
			metrics.RigErrors.WithLabelValues("head").Inc()
		}
	}
	if c.keys != nil {
		if err := c.keys.Update(dt); err != nil {
			c.logger.Debug().Err(err).Msg("Shape key write failed")
			metrics.RigErrors.WithLabelValues("shape_key").Inc()
		}
	}
}

func (c *Coordinator) executeLocked(cmd bus.Command) {
	metrics.CommandsReceived.WithLabelValues("queue", string(cmd.Type)).Inc()

	var err error
	switch cmd.Type {
	case bus.CommandSpeak:
		res := c.speakLocked(cmd.Text)
		err = res.Err()
	case bus.CommandJawTest:
		res := c.jawTestLocked()
		err = res.Err()
	case bus.CommandStop:
		c.stopLocked()
	case bus.CommandShapeKey:
		err = c.shapeKeyLocked(cmd.Name)
	case bus.CommandHeadGesture:
		err = c.headGestureLocked(cmd.Name)
	}

	if err != nil {
		c.logger.Info().Err(err).Str("command", string(cmd.Type)).Msg("Command completed with warnings")
	}
}

// rigErrorLocked reports a vanished or broken rig once per request. Timing keeps
// running; the backend is resolved again on the next request.
func (c *Coordinator) rigErrorLocked(err error) {
	if c.rigReported {
		return
	}
	c.rigReported = true

	if errors.Is(err, rig.ErrNodeGone) || errors.Is(err, rig.ErrNodeNotFound) {
		c.needsResolve = true
		metrics.RigErrors.WithLabelValues("node_gone").Inc()
		c.logger.Warn().Err(err).Str("node", c.capability.NodeName).Msg("Rig node vanished, mouth animation suspended")
		c.events.Publish(bus.Event{Type: bus.EventTypeRigNodeGone, Data: map[string]any{"node": c.capability.NodeName}})
		return
	}
	metrics.RigErrors.WithLabelValues("write").Inc()
	c.logger.Warn().Err(err).Msg("Rig write failed")
}

var stateEvents = map[State]bus.EventType{
	StateScheduled: bus.EventTypeSpeakScheduled,
	StatePlaying:   bus.EventTypeSpeakPlaying,
	StateCompleted: bus.EventTypeSpeakCompleted,
	StateCancelled: bus.EventTypeSpeakCancelled,
}

// setStateLocked records s and publishes the transition. kv are extra
// key/value pairs for the event.
func (c *Coordinator) setStateLocked(s State, kv ...string) {
	c.state = s
	typ, ok := stateEvents[s]
	if !ok {
		return
	}

	data := map[string]any{"state": s.String()}
	if c.active != nil {
		data["request"] = c.active.ID
	}
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	c.events.Publish(bus.Event{Type: typ, Data: data})
}

// State is the coordinator state. Completed and Cancelled are transient and
// only seen through events.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the request being played, if any.
func (c *Coordinator) Active() (SpeakRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return SpeakRequest{}, false
	}
	return *c.active, true
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		State:    c.state.String(),
		Backend:  c.capability.Kind.String(),
		Node:     c.capability.NodeName,
		Target:   c.capability.Target,
		Attached: c.scene != nil,
		Queued:   c.commands.Len(),
	}
	if c.active != nil {
		s.RequestID = c.active.ID
	}
	if c.head != nil {
		s.HeadBusy = c.head.Busy()
	}
	return s
}
