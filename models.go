package gxps

import (
	"math"

	"github.com/gxps/pkg/shapes"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// A saved project: the spectra of a container and which of them were
// active
type Project struct {
	gorm.Model

	Name string `gorm:"uniqueIndex"`
	// version of gxps that wrote the project
	Version string
	Spectra []*SpectrumRecord `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

type SpectrumRecord struct {
	gorm.Model

	ProjectID uint
	// order in the container
	Position int
	Active   bool

	// raw samples
	Energy    datatypes.JSONSlice[float64]
	Intensity datatypes.JSONSlice[float64]
	Meta      datatypes.JSONType[map[MetaKey]string]

	BackgroundType string
	// on the displayed energy
	BackgroundBounds datatypes.JSONSlice[float64]
	Calibration      float64
	NormType         string
	NormDivisor      float64

	Peaks []*PeakRecord `gorm:"foreignKey:SpectrumID;constraint:OnDelete:CASCADE"`
}

type PeakRecord struct {
	gorm.Model

	SpectrumID uint
	Position   int

	Name        string
	Label       string
	Shape       string
	Constraints datatypes.JSONType[map[shapes.Alias]ConstraintRecord]
}

// JSON has no infinities: unbounded limits are stored as null
type ConstraintRecord struct {
	Value float64  `json:"value"`
	Vary  bool     `json:"vary"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Expr  string   `json:"expr,omitempty"`
}

func newConstraintRecord(c Constraint) ConstraintRecord {
	limit := func(v float64) *float64 {
		if math.IsInf(v, 0) {
			return nil
		}
		return &v
	}
	value := c.Value
	if !finite(value) {
		value = 0
	}
	return ConstraintRecord{Value: value, Vary: c.Vary, Min: limit(c.Min), Max: limit(c.Max), Expr: c.Expr}
}

func (r ConstraintRecord) constraint() Constraint {
	c := Constraint{Value: r.Value, Vary: r.Vary, Min: math.Inf(-1), Max: math.Inf(1), Expr: r.Expr}
	if r.Min != nil {
		c.Min = *r.Min
	}
	if r.Max != nil {
		c.Max = *r.Max
	}
	return c
}
