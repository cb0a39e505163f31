package main

import (
	"context"
	"fmt"
	"time"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/normanking/cortexlipsync/internal/rig"
	"github.com/normanking/cortexlipsync/internal/tts"
)

// app wires the engine together from config.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	events  *bus.EventBus
	trigger *tts.Trigger
	coord   *avatar3d.Coordinator
	graph   *rig.Graph
}

func newApp(cfgPath string, overrides func(*config.Config)) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		overrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		return nil, err
	}
	zlog := logger.Zerolog()

	table, err := cfg.Table()
	if err != nil {
		logger.Close()
		return nil, err
	}

	engine, err := tts.NewEngine(cfg.Speech.Engine, cfg.LipSync.RateConfig, zlog)
	if err != nil {
		logger.Close()
		return nil, err
	}

	events := bus.NewEventBus()
	trigger := tts.NewTrigger(engine, cfg.SpeechOptions(), events, zlog)
	coord := avatar3d.NewCoordinator(cfg.CoordinatorOptions(), trigger, events, zlog)
	coord.SetTable(table)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		events:  events,
		trigger: trigger,
		coord:   coord,
	}
	if err := a.attach(); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("app", "Engine ready", map[string]interface{}{
		"engine":  engine.Name(),
		"backend": coord.Capability().Kind.String(),
	})
	return a, nil
}

// attach loads the configured rig, or an empty scene when none is set.
func (a *app) attach() error {
	g := rig.NewGraph("Scene")
	if a.cfg.Rig.Path != "" {
		loaded, err := rig.LoadGLTF(a.cfg.Rig.Path)
		if err != nil {
			return err
		}
		g = loaded
	}
	a.graph = g
	a.coord.Attach(g, g.Root())
	return nil
}

func (a *app) tickInterval() time.Duration {
	return time.Second / time.Duration(a.cfg.Server.TickRate)
}

// run drives Update at the tick rate until ctx ends or done reports true.
func (a *app) run(ctx context.Context, done func() bool) error {
	ticker := time.NewTicker(a.tickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			a.coord.Update(now.Sub(last))
			last = now
			if done != nil && done() {
				return nil
			}
		}
	}
}

// SetTable and SetRate take reloaded config. The rate goes to both the
// timeline estimate and the speech engine so the two stay in step.
func (a *app) SetTable(t *lipsync.Table) {
	a.coord.SetTable(t)
}

func (a *app) SetRate(r lipsync.RateConfig) {
	a.coord.SetRate(r)
	a.trigger.SetRate(r)
}

// watch reloads the config file Load read, if any. The returned watcher is
// nil when there is nothing to watch.
func (a *app) watch() (*config.Watcher, error) {
	if a.cfg.File() == "" {
		return nil, nil
	}
	return config.NewWatcher(a.cfg.File(), a.cfg, a, a.events, a.logger.Zerolog())
}

// idle is true once the mouth and the speech engine have both finished.
func (a *app) idle() bool {
	return a.coord.State() == avatar3d.StateIdle && !a.trigger.Pending() && a.trigger.Speaking() == ""
}

func (a *app) Close() {
	a.coord.Stop()
	a.trigger.Close()
	a.logger.Close()
}

func describeResult(res avatar3d.SpeakResult) string {
	s := fmt.Sprintf("request %s: %d units over %v on %s backend",
		res.Request.ID, len(res.Timeline.Events), res.Timeline.Total.Round(time.Millisecond), res.Backend)
	if err := res.Err(); err != nil {
		s += fmt.Sprintf(" (%v)", err)
	}
	return s
}
