package gxps

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eisHeader(region, sweeps, dwell, pass, notes string) string {
	fields := make([]string, 13)
	fields[0], fields[6], fields[7], fields[9], fields[12] = region, sweeps, dwell, pass, notes
	return strings.Join(fields, "\t")
}

var eisFile = strings.Join([]string{
	"Region 1",
	eisHeader("1", "3", "0.2", "20", "Cu2p"),
	"h2",
	"h3",
	"930.0 100",
	"930.5 150",
	"931.0 120",
	"Region 2",
	"2\tFalse",
	"h2",
	"h3",
	"280.0 10",
	"280.5 12",
	"Region 3",
	eisHeader("3", "5", "0.1", "50", "C1s"),
	"h2",
	"h3",
	"Layer 0",
	"284.0 40",
	"284.5 42",
}, "\n")

type sourceTester struct {
	fpath   string
	content string
	// expected names of the parsed spectra, nil when parsing fails
	names []string
	check func(t *testing.T, spectra []SpectrumArgs)
}

func (s *sourceTester) runTest(t *testing.T, name string) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, s.fpath, []byte(s.content), 0600))

	spectra, err := ParseSpectrumFile(fs, s.fpath)
	if s.names == nil {
		assert.Error(t, err, "[%s] expected an error", name)
		return
	}
	require.NoError(t, err, "[%s] failed to parse", name)

	var names []string
	for _, args := range spectra {
		names = append(names, args.Name)
		assert.Equal(t, s.fpath, args.Filename, "[%s] wrong filename", name)
		assert.Regexp(t, `^S \d+$`, args.Meta[MetaKeyID], "[%s] missing key", name)
		assert.Len(t, args.Intensity, len(args.Energy), "[%s] column lengths", name)
	}
	assert.Equal(t, s.names, names, "[%s] wrong spectra", name)
	if s.check != nil {
		s.check(t, spectra)
	}
}

var sourceTests = map[string]*sourceTester{
	"xy-whitespace": {
		fpath:   "/data/survey.xy",
		content: "# BE counts\n100.0   5\n100.5\t6\n\n101.0 7\n",
		names:   []string{"S XY"},
		check: func(t *testing.T, spectra []SpectrumArgs) {
			assert.Equal(t, []float64{100, 100.5, 101}, spectra[0].Energy)
			assert.Equal(t, []float64{5, 6, 7}, spectra[0].Intensity)
			assert.Equal(t, "file survey.xy", spectra[0].Notes)
		},
	},
	"xy-simple": {
		fpath:   "/data/simple.xy",
		content: "1.0,10\n2.0,20\n",
		names:   []string{"S XY"},
	},
	"txt-simple": {
		fpath:   "/data/simple.txt",
		content: "1.5,10\r\n2.5,20\r\n",
		names:   []string{"S XY"},
		check: func(t *testing.T, spectra []SpectrumArgs) {
			assert.Equal(t, []float64{1.5, 2.5}, spectra[0].Energy)
		},
	},
	"eis": {
		fpath:   "/data/export.txt",
		content: eisFile,
		names:   []string{"S 1", "S 3"},
		check: func(t *testing.T, spectra []SpectrumArgs) {
			cu := spectra[0]
			assert.Equal(t, []float64{930, 930.5, 931}, cu.Energy)
			assert.Equal(t, "Cu2p", cu.Notes)
			assert.Equal(t, "3", cu.Meta[MetaSweeps])
			assert.Equal(t, "0.2", cu.Meta[MetaDwellTime])
			assert.Equal(t, "20", cu.Meta[MetaPassEnergy])
			// layer lines are not data
			assert.Equal(t, []float64{284, 284.5}, spectra[1].Energy)
		},
	},
	"eis-bad-header": {
		fpath:   "/data/broken.txt",
		content: "Region 1\n" + eisHeader("x", "3", "0.2", "20", "") + "\nh2\nh3\n1 2\n",
	},
	"unknown-extension": {
		fpath:   "/data/spectrum.vms",
		content: "1.0,10\n",
	},
	"unknown-txt": {
		fpath:   "/data/notes.txt",
		content: "measured on monday\n",
	},
	"bad-number": {
		fpath:   "/data/bad.xy",
		content: "1.0 ten\n",
	},
	"empty": {
		fpath: "/data/empty.xy",
	},
}

func TestSources(t *testing.T) {
	for name, cfg := range sourceTests {
		cfg.runTest(t, name)
	}
}

func TestSpectrumKeysAreUnique(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "a.xy", []byte("1 2\n2 3\n"), 0600))

	first, err := ParseSpectrumFile(fs, "a.xy")
	require.NoError(t, err)
	second, err := ParseSpectrumFile(fs, "a.xy")
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Meta[MetaKeyID], second[0].Meta[MetaKeyID])
}

func TestParsedSpectraLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "export.txt", []byte(eisFile), 0600))
	spectra, err := ParseSpectrumFile(fs, "export.txt")
	require.NoError(t, err)

	c := NewSpectrumContainer(DefaultProcessingOptions(), DefaultFitOptions())
	for _, args := range spectra {
		_, err := c.AddSpectrum(args)
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Len())
	pass, ok := c.Spectra()[0].Meta(MetaPassEnergy)
	assert.True(t, ok)
	assert.Equal(t, "20", pass)
}
