package rig

import (
	"strings"

	"github.com/rs/zerolog"
)

// DefaultMouthTargets are the morph channels tried, in order, when no explicit
// target is configured. ARKit names first, then common viseme/VRM names.
var DefaultMouthTargets = []string{
	"jawOpen",
	"mouthOpen",
	"viseme_aa",
	"Mouth_Open",
	"MouthOpen",
	"A",
}

// DefaultJawBoneName matches Character Creator rigs.
const DefaultJawBoneName = "CC_Base_JawRoot"

// Capability is what the resolver found on a rig.
type Capability struct {
	Kind     BackendKind
	Node     NodeHandle
	NodeName string
	// Target is the morph channel; empty for bone rotation.
	Target string
}

func (c Capability) Ref() *Ref {
	return NewRef(c.NodeName, c.Node)
}

// Resolver picks the actuation backend for a rig. Morph targets win over a jaw bone.
type Resolver struct {
	JawBoneName      string
	MorphTarget      string
	PreferredTargets []string

	logger zerolog.Logger
}

func NewResolver(jawBoneName, morphTarget string, logger zerolog.Logger) *Resolver {
	if jawBoneName == "" {
		jawBoneName = DefaultJawBoneName
	}
	return &Resolver{
		JawBoneName:      jawBoneName,
		MorphTarget:      morphTarget,
		PreferredTargets: DefaultMouthTargets,
		logger:           logger.With().Str("component", "rig-resolver").Logger(),
	}
}

// Resolve walks the graph under root once. It never fails; a rig with nothing
// usable reports BackendNone.
func (r *Resolver) Resolve(s Scene, root NodeHandle) Capability {
	nodes := s.Descendants(root)

	if c, ok := r.findMorph(s, nodes); ok {
		r.logger.Info().
			Str("node", c.NodeName).
			Str("target", c.Target).
			Msg("Using blend shape lip sync")
		return c
	}

	if r.JawBoneName != "" {
		if n, ok := s.ResolveNamedNode(root, r.JawBoneName); ok {
			r.logger.Info().Str("bone", r.JawBoneName).Msg("Using jaw bone lip sync")
			return Capability{Kind: BackendBoneRotation, Node: n, NodeName: r.JawBoneName}
		}
	}

	r.logger.Warn().
		Int("nodes", len(nodes)).
		Str("jaw_bone", r.JawBoneName).
		Msg("No morph targets or jaw bone found, mouth will not move")
	return Capability{Kind: BackendNone}
}

func (r *Resolver) findMorph(s Scene, nodes []NodeHandle) (Capability, bool) {
	// An explicit target must exist somewhere; otherwise fall through to preferences.
	if r.MorphTarget != "" {
		for _, n := range nodes {
			if hasTarget(s.ListMorphTargets(n), r.MorphTarget) {
				return Capability{Kind: BackendBlendShape, Node: n, NodeName: s.NodeName(n), Target: r.MorphTarget}, true
			}
		}
		r.logger.Warn().Str("target", r.MorphTarget).Msg("Configured morph target not found")
	}

	for _, want := range r.PreferredTargets {
		for _, n := range nodes {
			if t, ok := matchTarget(s.ListMorphTargets(n), want); ok {
				return Capability{Kind: BackendBlendShape, Node: n, NodeName: s.NodeName(n), Target: t}, true
			}
		}
	}

	for _, n := range nodes {
		if targets := s.ListMorphTargets(n); len(targets) > 0 {
			return Capability{Kind: BackendBlendShape, Node: n, NodeName: s.NodeName(n), Target: targets[0]}, true
		}
	}
	return Capability{}, false
}

func hasTarget(targets []string, name string) bool {
	for _, t := range targets {
		if t == name {
			return true
		}
	}
	return false
}

// matchTarget is case-insensitive and returns the rig's spelling.
func matchTarget(targets []string, name string) (string, bool) {
	for _, t := range targets {
		if strings.EqualFold(t, name) {
			return t, true
		}
	}
	return "", false
}
