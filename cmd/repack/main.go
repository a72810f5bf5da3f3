package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"repack/internal/adapters/execrar"
	"repack/internal/banned"
	"repack/internal/config"
	"repack/internal/job"
	"repack/internal/manifest"
	"repack/internal/pipeline"
	"repack/internal/safefs"
	"repack/internal/sanitize"
)

// version is set via ldflags at build time: -ldflags "-X main.version=x.y.z"
var version = "dev"

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

type app struct {
	cfgPath string
	verbose bool

	cfg *config.Config
	log zerolog.Logger
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := zerolog.InfoLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
		Level(level).
		With().Timestamp().Logger()

	path := a.cfgPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFrom(config.ExpandPath(path))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) openRegistry() (*banned.Registry, error) {
	return banned.Open(config.ExpandPath(a.cfg.BannedDir), a.log)
}

func (a *app) newPipeline(reg *banned.Registry) *pipeline.Pipeline {
	arch := execrar.New(
		execrar.WithBinary(config.ExpandPath(a.cfg.ArchiverPath)),
		execrar.WithSplitBytes(a.cfg.SplitBytes),
		execrar.WithCompression(a.cfg.Compression),
		execrar.WithTimeout(a.cfg.Timeout()),
		execrar.WithLogger(a.log),
	)
	sfs := safefs.New(a.log)
	runner := job.NewRunner(arch, reg, sfs, a.log)
	return pipeline.New(runner, sfs, a.log)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "repack",
		Short:         "Repackage downloaded files into canonical archives",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default ~/.repack/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newProcessCmd(a),
		newBannedCmd(a),
		newConfigCmd(a),
		newVerifyCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "repack %s\n", version)
			},
		},
	)
	return root
}

func newProcessCmd(a *app) *cobra.Command {
	var (
		title        string
		password     string
		workDir      string
		manifestPath string
	)

	cmd := &cobra.Command{
		Use:     "process [files...]",
		Short:   "Package the given files into archives named after the title",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			if workDir == "" {
				workDir = filepath.Join(config.ExpandPath(a.cfg.WorkingDir), sanitize.Title(title))
			}

			p := a.newPipeline(reg)
			res, err := p.Process(cmd.Context(), pipeline.Request{
				WorkDir:  workDir,
				Sources:  args,
				Title:    title,
				Password: password,
			})
			if err != nil {
				return err
			}
			if len(res.Artifacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), red("✗"), "no artifacts produced")
				return fmt.Errorf("all jobs failed")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", green("✓"), res.Title)
			var total int64
			for _, art := range res.Artifacts {
				size := int64(0)
				if info, err := os.Stat(art); err == nil {
					size = info.Size()
				}
				total += size
				fmt.Fprintf(out, "  %s %s\n", cyan(filepath.Base(art)), yellow(humanize.IBytes(uint64(size))))
			}
			fmt.Fprintf(out, "%d volume(s), %s total\n", len(res.Artifacts), humanize.IBytes(uint64(total)))

			if manifestPath != "" {
				entries, err := manifest.Build(res.Artifacts)
				if err != nil {
					return fmt.Errorf("building manifest: %w", err)
				}
				if err := manifest.Save(config.ExpandPath(manifestPath), entries); err != nil {
					return fmt.Errorf("writing manifest: %w", err)
				}
				fmt.Fprintf(out, "manifest written to %s\n", manifestPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "item title used to name the output archives")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password for protected source archives")
	cmd.Flags().StringVarP(&workDir, "workdir", "w", "", "working directory (default <working_dir>/<sanitized title>)")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "write a JSON manifest of the produced artifacts")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newBannedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "banned",
		Short: "Manage the banned file registry",
	}

	list := &cobra.Command{
		Use:     "list",
		Short:   "List banned file names",
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range reg.Names() {
				fmt.Fprintln(out, name)
			}
			fmt.Fprintf(out, "%d banned name(s) in %s\n", reg.Len(), reg.Dir())
			return nil
		},
	}

	add := &cobra.Command{
		Use:     "add [files...]",
		Short:   "Ban file names, keeping the files as reference samples",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, path := range args {
				added, err := reg.AddReference(path)
				if err != nil {
					return err
				}
				if added {
					fmt.Fprintf(out, "%s banned %s\n", green("✓"), filepath.Base(path))
				} else {
					fmt.Fprintf(out, "%s already banned %s\n", yellow("-"), filepath.Base(path))
				}
			}
			return nil
		},
	}

	reload := &cobra.Command{
		Use:     "reload",
		Short:   "Re-read the reference directory and report the entry count",
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			if err := reg.Reload(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d banned name(s) loaded from %s\n", green("✓"), reg.Len(), reg.Dir())
			return nil
		},
	}

	cmd.AddCommand(list, add, reload)
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfgPath
			if path == "" {
				path = config.ConfigPath()
			}
			path = config.ExpandPath(path)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.DefaultConfig().SaveTo(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote default config to %s\n", green("✓"), path)
			return nil
		},
	}

	show := &cobra.Command{
		Use:     "show",
		Short:   "Show the effective configuration",
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "archiver_path:    %s\n", a.cfg.ArchiverPath)
			fmt.Fprintf(out, "working_dir:      %s\n", a.cfg.WorkingDir)
			fmt.Fprintf(out, "banned_dir:       %s\n", a.cfg.BannedDir)
			fmt.Fprintf(out, "compression:      %d\n", a.cfg.Compression)
			fmt.Fprintf(out, "split_bytes:      %d\n", a.cfg.SplitBytes)
			fmt.Fprintf(out, "archiver_timeout: %s\n", a.cfg.Timeout())
			return nil
		},
	}

	cmd.AddCommand(initCmd, show)
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "verify <manifest.json>",
		Short:   "Verify previously produced artifacts against a manifest",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := manifest.Load(config.ExpandPath(args[0]))
			if err != nil {
				return err
			}
			if err := manifest.Verify(entries); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", red("✗"), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d artifact(s) verified\n", green("✓"), len(entries))
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(1)
	}
}
