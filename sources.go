// Spectrum sources. Parsers for the files exported by the instruments
//
// Usage:
// args, err := ParseSpectrumFile(afero.NewOsFs(), "survey.xy")
//
// Every parsed spectrum gets a process-wide number, "S 1", "S 2", ...

package gxps

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// process-wide key of a parsed spectrum, e.g. "S 12"
const MetaKeyID MetaKey = "key"

var ErrUnknownFormat = errors.New("unknown spectrum file format")

var (
	simpleXYLine = regexp.MustCompile(`^\d+\.\d+,\d+$`)
	eisRegion    = regexp.MustCompile(`^Region.*`)
	eisLayer     = regexp.MustCompile(`^Layer.*`)
	eisDisabled  = regexp.MustCompile(`^[0-9]+\s*False.*`)
)

var spectrumNumber atomic.Int64

type SpectrumIterator iter.Seq2[SpectrumArgs, error]

// A parser turns the content of one file into spectra
type SpectrumReader func(fpath string, r io.Reader) SpectrumIterator

// ParseSpectrumFile reads every spectrum of the file at fpath. The format
// follows the extension and the first line.
func ParseSpectrumFile(fs afero.Fs, fpath string) ([]SpectrumArgs, error) {
	reader, err := detectFormat(fs, fpath)
	if err != nil {
		return nil, err
	}

	f, err := fs.Open(fpath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", fpath)
	}
	defer f.Close()

	var spectra []SpectrumArgs
	for args, err := range reader(fpath, f) {
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", fpath)
		}
		spectra = append(spectra, args)
	}
	if len(spectra) == 0 {
		return nil, errors.Errorf("no spectra in %s", fpath)
	}

	for i := range spectra {
		spectra[i].Meta[MetaKeyID] = fmt.Sprintf("S %d", spectrumNumber.Add(1))
	}
	return spectra, nil
}

func detectFormat(fs afero.Fs, fpath string) (SpectrumReader, error) {
	f, err := fs.Open(fpath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", fpath)
	}
	defer f.Close()

	first, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to read %s", fpath)
	}
	first = strings.TrimRight(first, "\r\n")

	switch strings.ToLower(path.Ext(fpath)) {
	case ".txt":
		if strings.Contains(first, "Region") {
			return parseEIS, nil
		}
		if simpleXYLine.MatchString(first) {
			return xyReader(","), nil
		}
	case ".xy":
		if simpleXYLine.MatchString(first) {
			return xyReader(","), nil
		}
		return xyReader(""), nil
	}
	return nil, errors.Wrapf(ErrUnknownFormat, "%s", fpath)
}

// splits on the delimiter, or on whitespace when it is empty
func splitColumns(line, delimiter string) []string {
	if delimiter == "" {
		return strings.Fields(line)
	}
	fields := strings.Split(line, delimiter)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// parseColumns reads two numeric columns from lines
func parseColumns(lines []string, delimiter string) ([]float64, []float64, error) {
	var energy, intensity []float64
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitColumns(line, delimiter)
		if len(fields) < 2 {
			return nil, nil, errors.Errorf("expected two columns, got %q", line)
		}
		e, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid energy in %q", line)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid intensity in %q", line)
		}
		energy = append(energy, e)
		intensity = append(intensity, y)
	}
	return energy, intensity, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// xyReader parses a headerless two-column file
func xyReader(delimiter string) SpectrumReader {
	return func(fpath string, r io.Reader) SpectrumIterator {
		return func(yield func(SpectrumArgs, error) bool) {
			lines, err := readLines(r)
			if err != nil {
				yield(SpectrumArgs{}, err)
				return
			}
			energy, intensity, err := parseColumns(lines, delimiter)
			if err != nil {
				yield(SpectrumArgs{}, err)
				return
			}
			if len(energy) == 0 {
				yield(SpectrumArgs{}, errors.New("no data rows"))
				return
			}
			yield(SpectrumArgs{
				Energy:    energy,
				Intensity: intensity,
				Filename:  fpath,
				Name:      "S XY",
				Notes:     "file " + path.Base(fpath),
				Meta:      make(map[MetaKey]string),
			}, nil)
		}
	}
}

// parseEIS splits an Omicron EIS export into its regions. Disabled regions
// are skipped. Every region starts with four header lines; the second one
// holds the tab separated acquisition parameters.
func parseEIS(fpath string, r io.Reader) SpectrumIterator {
	return func(yield func(SpectrumArgs, error) bool) {
		lines, err := readLines(r)
		if err != nil {
			yield(SpectrumArgs{}, err)
			return
		}

		var (
			regions [][]string
			skip    bool
		)
		for _, line := range lines {
			switch {
			case eisRegion.MatchString(line):
				regions = append(regions, nil)
				skip = false
			case eisDisabled.MatchString(line) && !skip && len(regions) > 0:
				regions = regions[:len(regions)-1]
				skip = true
			case eisLayer.MatchString(line):
				continue
			}
			if !skip && len(regions) > 0 {
				regions[len(regions)-1] = append(regions[len(regions)-1], line)
			}
		}

		for _, region := range regions {
			args, err := parseEISRegion(fpath, region)
			if !yield(args, err) || err != nil {
				return
			}
		}
	}
}

func parseEISRegion(fpath string, lines []string) (SpectrumArgs, error) {
	if len(lines) < 4 {
		return SpectrumArgs{}, errors.Errorf("truncated EIS region header")
	}
	header := strings.Split(strings.TrimRight(lines[1], "\r"), "\t")
	if len(header) < 13 {
		return SpectrumArgs{}, errors.Errorf("EIS region header has %d fields, want 13", len(header))
	}

	energy, intensity, err := parseColumns(lines[4:], "")
	if err != nil {
		return SpectrumArgs{}, err
	}

	meta := map[MetaKey]string{
		MetaEISRegion:  strings.TrimSpace(header[0]),
		MetaSweeps:     strings.TrimSpace(header[6]),
		MetaDwellTime:  strings.TrimSpace(header[7]),
		MetaPassEnergy: strings.TrimSpace(header[9]),
	}
	for _, key := range []MetaKey{MetaEISRegion, MetaSweeps} {
		if _, err := strconv.Atoi(meta[key]); err != nil {
			return SpectrumArgs{}, errors.Wrapf(err, "invalid %s", key)
		}
	}
	for _, key := range []MetaKey{MetaDwellTime, MetaPassEnergy} {
		if _, err := strconv.ParseFloat(meta[key], 64); err != nil {
			return SpectrumArgs{}, errors.Wrapf(err, "invalid %s", key)
		}
	}

	return SpectrumArgs{
		Energy:    energy,
		Intensity: intensity,
		Filename:  fpath,
		Name:      "S " + meta[MetaEISRegion],
		Notes:     strings.TrimSpace(header[12]),
		Meta:      meta,
	}, nil
}
