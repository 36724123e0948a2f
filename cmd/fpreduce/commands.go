package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fpreduce/internal/models"
	"fpreduce/pkg/config"
	"fpreduce/pkg/cubeio"
	"fpreduce/pkg/fit"
	"fpreduce/pkg/logging"
	"fpreduce/pkg/pipeline"
	"fpreduce/pkg/visualization"
)

// options shared by every subcommand
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *rootOptions) load(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	return cfg, logging.NewWithWriter(w, cfg.Logging.Level, cfg.Logging.Format), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "fpreduce",
		Short: "Reduce Fabry-Perot interferometer cubes to wavelength maps",
		Long: `fpreduce turns a scanning Fabry-Perot data cube into a wrapped phase map,
finds the interference rings, unwraps the phase and calibrates it to a
wavelength map. Every intermediate product is written as a FITS file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "fpreduce.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override the configured log format (traditional|text|json)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newSynthCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	return rootCmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		output  string
		profile string
		preview bool
	)

	cmd := &cobra.Command{
		Use:   "run <cube.fits>",
		Short: "Run the full reduction on a FITS cube",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var col, row int
			if profile != "" {
				if col, row, err = parsePixel(profile); err != nil {
					return err
				}
			}

			cube, err := cubeio.ReadCube(args[0])
			if err != nil {
				return err
			}
			log.Info("Loaded cube", "path", args[0], "planes", cube.Planes, "cols", cube.Cols, "rows", cube.Rows)

			p, err := pipeline.New(cfg, logging.SlogEmitter{Logger: log})
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := p.Run(cube)
			if err != nil {
				return err
			}
			for _, d := range res.Diagnostics {
				log.Warn("Diagnostic", "run", res.RunID, "error", d.Error())
			}

			written, err := cubeio.WriteResult(output, res)
			if err != nil {
				return err
			}
			log.Info("Reduction complete", "run", res.RunID, "files", len(written),
				"output", output, "duration", time.Since(start).Round(time.Millisecond))

			if preview {
				images, err := visualization.SaveArtifacts(filepath.Join(output, "preview"), res.Artifacts())
				if err != nil {
					return err
				}
				log.Info("Wrote previews", "images", len(images))
			}

			if profile == "" {
				return nil
			}
			prof, err := res.Profile(cube, col, row)
			if err != nil {
				return err
			}
			return writeProfile(cmd.OutOrStdout(), prof)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "reduced", "directory receiving the artifacts")
	cmd.Flags().StringVar(&profile, "profile", "", "print the processing history of pixel col,row")
	cmd.Flags().BoolVar(&preview, "preview", false, "also write PNG quick-look images under <output>/preview")
	return cmd
}

func newSynthCmd(opts *rootOptions) *cobra.Command {
	var (
		planes, size int
		center       string
	)

	cmd := &cobra.Command{
		Use:   "synth <cube.fits>",
		Short: "Render a synthetic Airy cube from the configured instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			instrument, err := cfg.Validate()
			if err != nil {
				return err
			}

			c := models.Point{Col: float64(size) / 2, Row: float64(size) / 2}
			if center != "" {
				col, row, err := parsePixel(center)
				if err != nil {
					return err
				}
				c = models.Point{Col: float64(col), Row: float64(row)}
			}

			cube, err := fit.AiryModel(fit.NewAiryParams(instrument, c), planes, size, size)
			if err != nil {
				return err
			}
			if err := cubeio.WriteCube(args[0], cube, cubeio.Card{Name: "OBJECT", Value: "synthetic airy cube"}); err != nil {
				return err
			}
			log.Info("Wrote synthetic cube", "path", args[0], "planes", planes, "size", size)
			return nil
		},
	}

	cmd.Flags().IntVar(&planes, "planes", 16, "number of scanning channels")
	cmd.Flags().IntVar(&size, "size", 128, "image width and height in pixels")
	cmd.Flags().StringVar(&center, "center", "", "ring center as col,row (default: image center)")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a template configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filepath.Clean(path))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(io.Discard)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(io.Discard)
			if err != nil {
				return err
			}
			if _, err := pipeline.NewParams(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", opts.configPath)
			return nil
		},
	})

	return cmd
}

// parsePixel reads "col,row"
func parsePixel(s string) (int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected col,row, got %q", s)
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid column in %q: %w", s, err)
	}
	row, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid row in %q: %w", s, err)
	}
	return col, row, nil
}

type profileDoc struct {
	Col          int       `yaml:"col"`
	Row          int       `yaml:"row"`
	Raw          []float64 `yaml:"raw,flow"`
	Continuum    float64   `yaml:"continuum"`
	Discontinuum []float64 `yaml:"discontinuum,flow"`
	Wrapped      float64   `yaml:"wrapped_phase"`
	Noisy        bool      `yaml:"noisy"`
	Border       float64   `yaml:"border_distance"`
	Order        int       `yaml:"order"`
	Unwrapped    float64   `yaml:"unwrapped_phase"`
	Parabolic    float64   `yaml:"parabolic_model"`
	Airy         []float64 `yaml:"airy_model,flow"`
	Wavelength   float64   `yaml:"wavelength"`
}

func writeProfile(w io.Writer, p *pipeline.PixelProfile) error {
	data, err := yaml.Marshal(profileDoc(*p))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
