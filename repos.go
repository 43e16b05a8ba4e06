package gxps

import (
	"strings"
	"time"

	"github.com/gxps/pkg/processing"
	"github.com/gxps/pkg/shapes"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrUnknownProject = errors.New("no such project")

type DatabaseLocation string

const (
	INMEMORY_DATABASE DatabaseLocation = ":memory:"
)

const (
	cacheSize = 16
	cacheTTL  = 10 * time.Minute
)

type Repository interface {
	WithTransaction(fn func(*gorm.DB) error) error
	connect() (*gorm.DB, error)
}

type repository struct {
	db *gorm.DB

	location string
	config   *gorm.Config
	models   []any
}

// do whatever within a separate transaction
func (r *repository) WithTransaction(fn func(conn *gorm.DB) error) error {
	if _, err := r.connect(); err != nil {
		return err
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

func (r *repository) connect() (*gorm.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := gorm.Open(sqlite.Open(r.location), r.config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}

	// every connection to :memory: opens a new database
	if r.location == string(INMEMORY_DATABASE) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to open database connection")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}
	if err := db.AutoMigrate(r.models...); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	r.db = db

	return db, nil
}

func (r *repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	r.db = nil
	return sqlDB.Close()
}

// ProjectRepo stores spectrum containers by project name
type ProjectRepo struct {
	repository
	cache *expirable.LRU[string, *Project]
}

func NewProjectRepo(location DatabaseLocation) *ProjectRepo {
	return &ProjectRepo{
		repository: repository{
			location: string(location),
			config:   &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
			models:   []any{&Project{}, &SpectrumRecord{}, &PeakRecord{}},
		},
		cache: expirable.NewLRU[string, *Project](cacheSize, nil, cacheTTL),
	}
}

// Save stores every spectrum of c under name, replacing a project of the
// same name. Spectra in active are flagged as such.
func (r *ProjectRepo) Save(name string, c *SpectrumContainer, active []*ModeledSpectrum) error {
	if name == "" {
		return errors.Wrap(ErrValidation, "empty project name")
	}

	records := make([]*SpectrumRecord, 0, c.Len())
	for i, s := range c.Spectra() {
		rec, err := newSpectrumRecord(s)
		if err != nil {
			return err
		}
		rec.Position = i
		rec.Active = len(Filter(active, func(a *ModeledSpectrum) bool { return a == s })) > 0
		records = append(records, rec)
	}

	err := r.WithTransaction(func(tx *gorm.DB) error {
		var p Project
		q := tx.Unscoped().Where("name = ?", name).Limit(1).Find(&p)
		if err := q.Error; err != nil {
			return errors.Wrap(err, "failed to find project")
		}

		if q.RowsAffected > 0 {
			if err := deleteSpectra(tx, p.ID); err != nil {
				return err
			}
			if err := tx.Model(&p).Update("version", Version).Error; err != nil {
				return errors.Wrap(err, "failed to update project")
			}
		} else {
			p = Project{Name: name, Version: Version}
			if err := tx.Create(&p).Error; err != nil {
				return errors.Wrap(err, "failed to create project")
			}
		}

		for _, rec := range records {
			rec.ProjectID = p.ID
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Create(records).Error; err != nil {
			return errors.Wrap(err, "failed to create spectra")
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.cache.Remove(name)
	log.Debug().Msgf("Saved project %s with %d spectra", name, len(records))
	return nil
}

func deleteSpectra(tx *gorm.DB, projectID uint) error {
	var ids []uint
	if err := tx.Model(&SpectrumRecord{}).Where("project_id = ?", projectID).Pluck("id", &ids).Error; err != nil {
		return errors.Wrap(err, "failed to find spectra")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Unscoped().Where("spectrum_id IN ?", ids).Delete(&PeakRecord{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete peaks")
	}
	if err := tx.Unscoped().Delete(&SpectrumRecord{}, ids).Error; err != nil {
		return errors.Wrap(err, "failed to delete spectra")
	}
	return nil
}

func (r *ProjectRepo) find(name string) (*Project, error) {
	if p, ok := r.cache.Get(name); ok {
		return p, nil
	}

	var p Project
	err := r.WithTransaction(func(tx *gorm.DB) error {
		q := tx.
			Preload("Spectra", func(db *gorm.DB) *gorm.DB {
				return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "position"}})
			}).
			Preload("Spectra.Peaks", func(db *gorm.DB) *gorm.DB {
				return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "position"}})
			}).
			Where("name = ?", name).Limit(1).Find(&p)
		if err := q.Error; err != nil {
			return errors.Wrap(err, "failed to find project")
		}
		if q.RowsAffected == 0 {
			return errors.Wrapf(ErrUnknownProject, "%q", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Add(name, &p)
	return &p, nil
}

// Load restores the project into c and returns the spectra that were
// active. A project written by another version loads with a warning.
func (r *ProjectRepo) Load(name string, c *SpectrumContainer) ([]*ModeledSpectrum, error) {
	p, err := r.find(name)
	if err != nil {
		return nil, err
	}
	if p.Version != Version {
		log.Warn().Msgf("Project %s was saved by version %s, running %s", name, p.Version, Version)
	}

	var spectra, active []*ModeledSpectrum
	for _, rec := range p.Spectra {
		s, err := rec.restore(c.opts, c.fit)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to restore spectrum %d of %s", rec.Position, name)
		}
		spectra = append(spectra, s)
		if rec.Active {
			active = append(active, s)
		}
	}
	if err := c.Add(spectra...); err != nil {
		return nil, err
	}
	return active, nil
}

// List returns the stored projects, without their spectra, by name. With
// patterns, only the names matching any of the globs are listed.
func (r *ProjectRepo) List(patterns ...string) ([]*Project, error) {
	var projects []*Project
	return projects, r.WithTransaction(func(tx *gorm.DB) error {
		q := tx.Order(clause.OrderByColumn{Column: clause.Column{Name: "name"}})
		if len(patterns) > 0 {
			cond := tx.Where("name LIKE ? ESCAPE '\\'", globToSQLLike(patterns[0]))
			for _, p := range patterns[1:] {
				cond = cond.Or("name LIKE ? ESCAPE '\\'", globToSQLLike(p))
			}
			q = q.Where(cond)
		}
		if err := q.Find(&projects).Error; err != nil {
			return errors.Wrap(err, "failed to list projects")
		}
		return nil
	})
}

func globToSQLLike(glob string) string {
	// Escape SQL LIKE wildcards
	glob = strings.ReplaceAll(glob, "%", "\\%")
	glob = strings.ReplaceAll(glob, "_", "\\_")
	// Convert glob wildcards to SQL LIKE
	glob = strings.ReplaceAll(glob, "*", "%")
	glob = strings.ReplaceAll(glob, "?", "_")
	return glob
}

func (r *ProjectRepo) Delete(name string) error {
	err := r.WithTransaction(func(tx *gorm.DB) error {
		var p Project
		q := tx.Where("name = ?", name).Limit(1).Find(&p)
		if err := q.Error; err != nil {
			return errors.Wrap(err, "failed to find project")
		}
		if q.RowsAffected == 0 {
			return errors.Wrapf(ErrUnknownProject, "%q", name)
		}
		if err := deleteSpectra(tx, p.ID); err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&p).Error; err != nil {
			return errors.Wrap(err, "failed to delete project")
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.cache.Remove(name)
	return nil
}

func newSpectrumRecord(s *ModeledSpectrum) (*SpectrumRecord, error) {
	meta := make(map[MetaKey]string)
	for _, k := range s.MetaKeys() {
		meta[k], _ = s.Meta(k)
	}

	rec := &SpectrumRecord{
		Energy:           datatypes.NewJSONSlice(s.RawEnergy()),
		Intensity:        datatypes.NewJSONSlice(s.RawIntensity()),
		Meta:             datatypes.NewJSONType(meta),
		BackgroundType:   string(s.BackgroundType()),
		BackgroundBounds: datatypes.NewJSONSlice(s.BackgroundBounds()),
		Calibration:      s.EnergyCalibration(),
		NormType:         string(s.NormalizationType()),
		NormDivisor:      s.NormalizationDivisor(),
	}

	for i, p := range s.Peaks() {
		constraints := make(map[shapes.Alias]ConstraintRecord)
		for _, alias := range p.Shape().Aliases() {
			c, err := p.Constraints(alias)
			if err != nil {
				return nil, err
			}
			constraints[alias] = newConstraintRecord(c)
		}
		rec.Peaks = append(rec.Peaks, &PeakRecord{
			Position:    i,
			Name:        p.Name(),
			Label:       p.Label(),
			Shape:       string(p.Shape()),
			Constraints: datatypes.NewJSONType(constraints),
		})
	}
	return rec, nil
}

func (rec *SpectrumRecord) restore(opts ProcessingOptions, fit FitOptions) (*ModeledSpectrum, error) {
	meta := rec.Meta.Data()
	s, err := NewModeledSpectrum(SpectrumArgs{
		Energy:    rec.Energy,
		Intensity: rec.Intensity,
		Name:      meta[MetaName],
		Filename:  meta[MetaFilename],
		Notes:     meta[MetaNotes],
		Meta:      meta,
	}, opts, fit)
	if err != nil {
		return nil, err
	}

	if err := s.SetEnergyCalibration(rec.Calibration); err != nil {
		return nil, err
	}
	if err := s.SetBackgroundType(processing.BackgroundType(rec.BackgroundType)); err != nil {
		return nil, err
	}
	if err := s.SetBackgroundBounds(rec.BackgroundBounds); err != nil {
		return nil, err
	}
	if NormType(rec.NormType) == NormManual {
		err = s.SetNormalizationDivisor(rec.NormDivisor)
	} else {
		err = s.SetNormalizationType(NormType(rec.NormType))
	}
	if err != nil {
		return nil, err
	}

	// expressions may reference any peak, bind them once all exist
	type pending struct {
		peak  *Peak
		alias shapes.Alias
		expr  string
	}
	var exprs []pending
	for _, pr := range rec.Peaks {
		p, err := s.AddPeak(pr.Name, shapes.Shape(pr.Shape), PeakArgs{FWHM: 1, Label: pr.Label})
		if err != nil {
			return nil, err
		}
		for alias, cr := range pr.Constraints.Data() {
			c := cr.constraint()
			expr := c.Expr
			c.Expr = ""
			if err := p.SetConstraints(alias, c); err != nil {
				return nil, errors.Wrapf(err, "peak %s", pr.Name)
			}
			if expr != "" {
				exprs = append(exprs, pending{p, alias, expr})
			}
		}
	}
	for _, e := range exprs {
		c, _ := e.peak.Constraints(e.alias)
		c.Expr = e.expr
		if err := e.peak.SetConstraints(e.alias, c); err != nil {
			return nil, errors.Wrapf(err, "peak %s", e.peak.Name())
		}
	}
	return s, nil
}
