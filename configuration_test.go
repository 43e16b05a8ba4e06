package gxps

import (
	"path"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths() *StandardPaths {
	return &StandardPaths{
		GXPS_APPNAME: "gxps-test",
		CONFIG_HOME:  "/home/test/.config/gxps-test",
		STATE_HOME:   "/home/test/.local/state/gxps-test",
		DATA_HOME:    "/home/test/.local/share/gxps-test",
	}
}

func TestBindStandardPaths(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("GXPS_APPNAME", "")

	paths := BindStandardPaths(&StandardPaths{
		GXPS_APPNAME: "-",
		CONFIG_HOME:  "-",
		STATE_HOME:   "",
		DATA_HOME:    "/srv/data",
	})
	assert.Equal(t, "gxps", paths.GXPS_APPNAME)
	assert.Equal(t, "/xdg/config/gxps", paths.CONFIG_HOME)
	assert.Equal(t, "/home/test/.local/state/gxps", paths.STATE_HOME)
	assert.Equal(t, "/srv/data", paths.DATA_HOME, "explicit paths are kept as given")

	t.Setenv("GXPS_APPNAME", "profile")
	paths = BindStandardPaths(&StandardPaths{})
	assert.Equal(t, "/xdg/config/profile", paths.CONFIG_HOME)
}

type settingsTester struct {
	// settings file content, empty for no file
	content string
	// explicit settings path
	fpath string
	check func(t *testing.T, conf *Configuration)
	fails bool
}

func (s *settingsTester) runTest(t *testing.T, name string) {
	fs := afero.NewMemMapFs()
	paths := testPaths()
	if s.content != "" {
		fpath := s.fpath
		if fpath == "" {
			fpath = path.Join(paths.CONFIG_HOME, settingsFile)
		}
		require.NoError(t, afero.WriteFile(fs, fpath, []byte(s.content), 0600))
	}

	conf, err := loadSettings(fs, s.fpath, paths)
	if s.fails {
		assert.Error(t, err, "[%s] expected an error", name)
		return
	}
	require.NoError(t, err, "[%s] failed to load settings", name)

	for _, dir := range []string{paths.CONFIG_HOME, paths.STATE_HOME, paths.DATA_HOME} {
		ok, err := afero.DirExists(fs, dir)
		require.NoError(t, err)
		assert.True(t, ok, "[%s] %s not created", name, dir)
	}
	s.check(t, conf)
}

var settingsTests = map[string]*settingsTester{
	"defaults": {
		check: func(t *testing.T, conf *Configuration) {
			assert.Equal(t, DefaultSettings(), conf.Settings)
			assert.Equal(t, P_FIRE, conf.Policy())
			assert.Equal(t, zerolog.InfoLevel, conf.LogLevel())
			assert.Equal(t, DefaultProcessingOptions(), conf.Processing())
			assert.Equal(t, DefaultFitOptions(), conf.Fit())
			assert.Equal(t, "/home/test/.local/share/gxps-test/projects.db", conf.Database())
		},
	},
	"partial": {
		content: "bus:\n  policy: accumulate\nfit:\n  max_iterations: 50\nlog:\n  level: debug\n",
		check: func(t *testing.T, conf *Configuration) {
			assert.Equal(t, P_ACCUMULATE, conf.Policy())
			assert.Equal(t, 50, conf.Fit().MaxIterations)
			assert.Equal(t, DefaultFitOptions().Tolerance, conf.Fit().Tolerance, "absent keys keep their default")
			assert.Equal(t, zerolog.DebugLevel, conf.LogLevel())

			bus, err := conf.NewBus()
			require.NoError(t, err)
			assert.Equal(t, P_ACCUMULATE, bus.Policy(CHANGED_FIT))
		},
	},
	"explicit": {
		fpath:   "/etc/gxps.yaml",
		content: "processing:\n  plateau_fraction: 0.1\nproject:\n  database: /tmp/p.db\n",
		check: func(t *testing.T, conf *Configuration) {
			assert.Equal(t, 0.1, conf.Processing().PlateauFraction)
			assert.Equal(t, "/tmp/p.db", conf.Database())
		},
	},
	"explicit-missing": {
		fpath: "/etc/missing.yaml",
		fails: true,
	},
	"bad-policy": {
		content: "bus:\n  policy: sometimes\n",
		fails:   true,
	},
	"bad-fraction": {
		content: "processing:\n  plateau_fraction: 1.5\n",
		fails:   true,
	},
	"bad-level": {
		content: "log:\n  level: loud\n",
		fails:   true,
	},
	"bad-yaml": {
		content: "bus: [policy\n",
		fails:   true,
	},
}

func TestLoadSettings(t *testing.T) {
	for name, cfg := range settingsTests {
		cfg.runTest(t, name)
	}
}
