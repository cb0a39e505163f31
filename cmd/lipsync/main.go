// Command lipsync drives a rig's mouth from text, standalone or as a service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/rig"
	"github.com/normanking/cortexlipsync/internal/server"
)

var (
	// Version information (set at build time)
	version = "dev"

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath, rigPath, engine string

	rootCmd := &cobra.Command{
		Use:           "lipsync",
		Short:         "Text-driven jaw and mouth animation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ~/.cortexlipsync/lipsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&rigPath, "rig", "", "glTF/GLB rig, overrides rig.path")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "speech engine, overrides speech.engine")

	overrides := func(cfg *config.Config) {
		if rigPath != "" {
			cfg.Rig.Path = rigPath
		}
		if engine != "" {
			cfg.Speech.Engine = engine
		}
	}
	open := func() (*app, error) {
		return newApp(cfgPath, overrides)
	}

	rootCmd.AddCommand(
		newSpeakCmd(open),
		newJawTestCmd(open),
		newServeCmd(open),
		newTimelineCmd(&cfgPath),
		newInspectCmd(),
		newInitCmd(),
	)
	return rootCmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newSpeakCmd(open func() (*app, error)) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "speak [text...]",
		Short: "Speak text and animate the rig until done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.coord.Speak(strings.Join(args, " "))
			fmt.Println(dimStyle.Render(describeResult(res)))
			if res.State == avatar3d.StateIdle {
				return res.Err()
			}

			ctx, cancel := signalContext()
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, res.Timeline.Total+timeout)
			defer cancelTimeout()

			if err := a.run(ctx, a.idle); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Done"))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "grace", 10*time.Second, "extra time allowed for the speech engine")
	return cmd
}

func newJawTestCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "jaw-test",
		Short: "Open and close the mouth twice without speech",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.coord.JawTest()
			fmt.Println(dimStyle.Render(describeResult(res)))

			ctx, cancel := signalContext()
			defer cancel()
			if err := a.run(ctx, a.idle); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Done"))
			return nil
		},
	}
}

func newServeCmd(open func() (*app, error)) *cobra.Command {
	var addr string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control server and the animation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			if watch {
				w, err := a.watch()
				if err != nil {
					return err
				}
				if w != nil {
					defer w.Close()
				} else {
					fmt.Println(dimStyle.Render("no config file found, not watching"))
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			srv := server.New(a.cfg.Server, a.coord, a.logger)
			errs := make(chan error, 1)
			go func() { errs <- srv.Start(ctx) }()

			fmt.Println(titleStyle.Render("lipsync serving on " + a.cfg.Server.Addr))

			runErr := make(chan error, 1)
			go func() { runErr <- a.run(ctx, nil) }()

			select {
			case err := <-errs:
				cancel()
				<-runErr
				return err
			case <-runErr:
				return <-errs
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the config file and articulation table on change")
	return cmd
}

func newTimelineCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline [text...]",
		Short: "Print the articulation timeline for text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			table, err := cfg.Table()
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			units := lipsync.Extract(text)
			dur := lipsync.EstimateDuration(text, cfg.LipSync.RateConfig)
			tl := lipsync.NewBuilder(cfg.LipSync.Split).Build(units, dur, table)

			fmt.Println(titleStyle.Render(fmt.Sprintf("%d units, %v", len(tl.Events), tl.Total.Round(time.Millisecond))))
			for _, ev := range tl.Events {
				detail := fmt.Sprintf("in %v hold %v out %v",
					ev.In.Round(time.Millisecond), ev.Hold.Round(time.Millisecond), ev.Out.Round(time.Millisecond))
				if !table.Has(ev.Label) {
					detail += " (default)"
				}
				fmt.Printf("  %-4s %5.2f  %8v  %s\n", ev.Label, ev.Target,
					ev.Start.Round(time.Millisecond), dimStyle.Render(detail))
			}
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	var jawBone, morph string

	cmd := &cobra.Command{
		Use:   "inspect [rig.glb]",
		Short: "List a rig's nodes and the capability the resolver picks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := rig.LoadGLTF(args[0])
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render(g.NodeName(g.Root())))
			for _, n := range g.Inspect() {
				line := strings.Repeat("  ", n.Depth) + n.Name
				if len(n.MorphTargets) > 0 {
					line += " " + dimStyle.Render("["+strings.Join(n.MorphTargets, ", ")+"]")
				}
				fmt.Println(line)
			}

			capability := rig.NewResolver(jawBone, morph, zerolog.Nop()).Resolve(g, g.Root())
			fmt.Println()
			switch capability.Kind {
			case rig.BackendNone:
				fmt.Println(errorStyle.Render("✗ no morph target or jaw bone found"))
			case rig.BackendBlendShape:
				fmt.Println(successStyle.Render(fmt.Sprintf("✓ blendshape %q on %s", capability.Target, capability.NodeName)))
			default:
				fmt.Println(successStyle.Render("✓ jaw bone " + capability.NodeName))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jawBone, "jaw-bone", rig.DefaultJawBoneName, "jaw bone name")
	cmd.Flags().StringVar(&morph, "morph-target", "", "explicit morph target")
	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, err := config.GetConfigDir()
				if err != nil {
					return err
				}
				path = dir + string(os.PathSeparator) + "lipsync.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Wrote " + path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
