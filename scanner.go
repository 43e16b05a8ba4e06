package gxps

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Extensions the spectrum parsers understand
var SpectrumExtensions = []string{".xy", ".txt"}

type ScanFlags struct {
	// Directories where to find spectrum files
	Allowed []string
	// Glob patterns on the file name
	// defaults to []string{"*"}
	Required []string
	// Descend into subdirectories
	Recursive bool
}

type Scanner interface {
	Scan() ([]string, error)
}

type scanner struct {
	fs    afero.Fs
	flags ScanFlags
}

func NewScanner(fs afero.Fs, flags ScanFlags) Scanner {
	if len(flags.Required) == 0 {
		flags.Required = []string{"*"}
	}
	return &scanner{fs: fs, flags: flags}
}

func (s *scanner) accepts(fpath string) (bool, error) {
	if !slices.Contains(SpectrumExtensions, strings.ToLower(filepath.Ext(fpath))) {
		return false, nil
	}
	name := filepath.Base(fpath)
	for _, pattern := range s.flags.Required {
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return false, errors.Wrapf(err, "failed to search with pattern %s", pattern)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Scan returns the spectrum files under the allowed directories, sorted
func (s *scanner) Scan() ([]string, error) {
	var fpaths []string
	for _, root := range s.flags.Allowed {
		search := func(fpath string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if fpath != root && !s.flags.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			ok, err := s.accepts(fpath)
			if ok {
				fpaths = append(fpaths, fpath)
			}
			return err
		}
		if err := afero.Walk(s.fs, root, search); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", root)
		}
	}
	sort.Strings(fpaths)
	return slices.Compact(fpaths), nil
}

// ExpandSpectrumFiles replaces every directory in paths by the spectrum
// files directly inside it. Files are kept as given.
func ExpandSpectrumFiles(fs afero.Fs, paths []string) ([]string, error) {
	var out []string
	for _, fpath := range paths {
		dir, err := afero.IsDir(fs, fpath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat %s", fpath)
		}
		if !dir {
			out = append(out, fpath)
			continue
		}
		found, err := NewScanner(fs, ScanFlags{Allowed: []string{fpath}}).Scan()
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, errors.Errorf("no spectrum files in %s", fpath)
		}
		out = append(out, found...)
	}
	return out, nil
}
