package gxps

import (
	"math"
	"os"
	"path"
	"slices"

	"github.com/gxps/pkg/processing"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const settingsFile = "config.yaml"

// Standard paths to use to store gxps related data
// https://specifications.freedesktop.org/basedir-spec/latest/
type StandardPaths struct {
	// Can be used to change the profile
	// Default: "gxps"
	GXPS_APPNAME string
	// Path to configuration directory.
	// Default: "$XDG_CONFIG_HOME/$GXPS_APPNAME" or "$HOME/.config/$GXPS_APPNAME" if unset
	CONFIG_HOME string
	// Path to state directory
	// Default: "$XDG_STATE_HOME/$GXPS_APPNAME" or "$HOME/.local/state/$GXPS_APPNAME" if unset
	STATE_HOME string
	// Path to data directory
	// Default: "$XDG_DATA_HOME/$GXPS_APPNAME" or "$HOME/.local/share/$GXPS_APPNAME"
	DATA_HOME string
}

func (s StandardPaths) init(fs afero.Fs) error {
	for _, p := range []string{s.CONFIG_HOME, s.STATE_HOME, s.DATA_HOME} {
		if err := fs.MkdirAll(p, 0700); err != nil {
			return errors.Wrapf(err, "failed to create standard path: %s", p)
		}
	}
	return nil
}

type stdpathsBuilder struct {
	stdpaths *StandardPaths
	home     string

	app    string
	config string
	state  string
	data   string
}

func newStdpathsBuilder() *stdpathsBuilder {
	return &stdpathsBuilder{home: os.Getenv("HOME")}
}

func (b *stdpathsBuilder) withStdpaths(stdpaths *StandardPaths) *stdpathsBuilder {
	bcp := *b
	bcp.stdpaths = stdpaths
	return &bcp
}

func (b *stdpathsBuilder) isValid(val string) bool {
	return !slices.Contains([]string{"", "-"}, val)
}

func (b *stdpathsBuilder) bind(val, env, def string) string {
	if b.isValid(val) {
		return val
	}
	if v := os.Getenv(env); b.isValid(v) {
		return v
	}
	return def
}

func (b *stdpathsBuilder) bindToApp(val, env, def string) string {
	v := b.bind(val, env, def)
	if v == val {
		return val
	}
	return path.Join(v, b.app)
}

func (b *stdpathsBuilder) setApp(val string) *stdpathsBuilder {
	b.app = b.bind(val, "GXPS_APPNAME", "gxps")
	return b
}

func (b *stdpathsBuilder) setConfig(val string) *stdpathsBuilder {
	b.config = b.bindToApp(val, "XDG_CONFIG_HOME", path.Join(b.home, ".config"))
	return b
}

func (b *stdpathsBuilder) setState(val string) *stdpathsBuilder {
	b.state = b.bindToApp(val, "XDG_STATE_HOME", path.Join(b.home, ".local", "state"))
	return b
}

func (b *stdpathsBuilder) setData(val string) *stdpathsBuilder {
	b.data = b.bindToApp(val, "XDG_DATA_HOME", path.Join(b.home, ".local", "share"))
	return b
}

func (b *stdpathsBuilder) build() *StandardPaths {
	stdpaths := b.stdpaths
	stdpaths.GXPS_APPNAME = b.app
	stdpaths.CONFIG_HOME = b.config
	stdpaths.STATE_HOME = b.state
	stdpaths.DATA_HOME = b.data
	return stdpaths
}

// Overrides unset standard paths with the environment or the defaults
func BindStandardPaths(stdpaths *StandardPaths) *StandardPaths {
	b := newStdpathsBuilder().withStdpaths(stdpaths)
	return b.setApp(stdpaths.GXPS_APPNAME).
		setConfig(stdpaths.CONFIG_HOME).
		setData(stdpaths.DATA_HOME).
		setState(stdpaths.STATE_HOME).
		build()
}

// Settings is the document stored in $CONFIG_HOME/config.yaml
type Settings struct {
	Bus struct {
		Policy string `yaml:"policy"`
	} `yaml:"bus"`
	Processing struct {
		Shirley struct {
			Tolerance     float64 `yaml:"tolerance"`
			MaxIterations int     `yaml:"max_iterations"`
		} `yaml:"shirley"`
		PlateauFraction float64 `yaml:"plateau_fraction"`
	} `yaml:"processing"`
	Fit struct {
		MaxIterations int     `yaml:"max_iterations"`
		Tolerance     float64 `yaml:"tolerance"`
		// path to a solver plugin, empty for the built-in solver
		Plugin string `yaml:"plugin"`
	} `yaml:"fit"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Project struct {
		Database string `yaml:"database"`
	} `yaml:"project"`
}

func DefaultSettings() Settings {
	var s Settings
	s.Bus.Policy = string(P_FIRE)
	shirley := processing.DefaultShirleyOptions()
	s.Processing.Shirley.Tolerance = shirley.Tolerance
	s.Processing.Shirley.MaxIterations = shirley.MaxIterations
	s.Processing.PlateauFraction = DefaultProcessingOptions().PlateauFraction
	fit := DefaultFitOptions()
	s.Fit.MaxIterations = fit.MaxIterations
	s.Fit.Tolerance = fit.Tolerance
	s.Log.Level = zerolog.InfoLevel.String()
	return s
}

func (s Settings) validate() error {
	if _, err := ParsePolicy(s.Bus.Policy); err != nil {
		return errors.Wrap(err, "bus.policy")
	}
	if !(s.Processing.Shirley.Tolerance > 0) {
		return errors.Errorf("processing.shirley.tolerance must be positive, got %g", s.Processing.Shirley.Tolerance)
	}
	if s.Processing.Shirley.MaxIterations < 1 {
		return errors.Errorf("processing.shirley.max_iterations must be positive, got %d", s.Processing.Shirley.MaxIterations)
	}
	if f := s.Processing.PlateauFraction; !(f > 0 && f < 1) {
		return errors.Errorf("processing.plateau_fraction must lie in (0, 1), got %g", f)
	}
	if s.Fit.MaxIterations < 1 {
		return errors.Errorf("fit.max_iterations must be positive, got %d", s.Fit.MaxIterations)
	}
	if !(s.Fit.Tolerance > 0) || math.IsInf(s.Fit.Tolerance, 1) {
		return errors.Errorf("fit.tolerance must be positive, got %g", s.Fit.Tolerance)
	}
	if _, err := zerolog.ParseLevel(s.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

type Configuration struct {
	Paths    StandardPaths
	Settings Settings
}

// Database returns the location of the project database
func (c *Configuration) Database() string {
	if c.Settings.Project.Database != "" {
		return c.Settings.Project.Database
	}
	return path.Join(c.Paths.DATA_HOME, "projects.db")
}

func (c *Configuration) Policy() Policy {
	return Policy(c.Settings.Bus.Policy)
}

func (c *Configuration) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Settings.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Configuration) Processing() ProcessingOptions {
	return ProcessingOptions{
		Shirley: processing.ShirleyOptions{
			Tolerance:     c.Settings.Processing.Shirley.Tolerance,
			MaxIterations: c.Settings.Processing.Shirley.MaxIterations,
		},
		PlateauFraction: c.Settings.Processing.PlateauFraction,
	}
}

func (c *Configuration) Fit() FitOptions {
	return FitOptions{
		MaxIterations: c.Settings.Fit.MaxIterations,
		Tolerance:     c.Settings.Fit.Tolerance,
	}
}

// NewBus creates an event bus with the configured default policy
func (c *Configuration) NewBus() (*EventBus, error) {
	return NewEventBus(c.Policy())
}

// LoadSettings creates the standard paths and reads the settings at fpath,
// or at $CONFIG_HOME/config.yaml when fpath is empty. A missing default
// file means default settings; keys absent from the file keep theirs.
func LoadSettings(fpath string, paths *StandardPaths) (*Configuration, error) {
	return loadSettings(afero.NewOsFs(), fpath, paths)
}

func loadSettings(fs afero.Fs, fpath string, paths *StandardPaths) (*Configuration, error) {
	if err := paths.init(fs); err != nil {
		return nil, errors.Wrap(err, "failed to initialize standard paths")
	}

	conf := &Configuration{Paths: *paths, Settings: DefaultSettings()}

	explicit := fpath != ""
	if !explicit {
		fpath = path.Join(paths.CONFIG_HOME, settingsFile)
	}

	data, err := afero.ReadFile(fs, fpath)
	switch {
	case err != nil && !explicit && os.IsNotExist(err):
		return conf, nil
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read settings %s", fpath)
	}

	if err := yaml.Unmarshal(data, &conf.Settings); err != nil {
		return nil, errors.Wrapf(err, "failed to parse settings %s", fpath)
	}
	if err := conf.Settings.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid settings %s", fpath)
	}
	return conf, nil
}
