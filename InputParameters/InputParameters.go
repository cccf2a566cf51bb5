package InputParameters

import (
	"fmt"

	"github.com/ghodss/yaml"

	"github.com/pdelab/cdr2d/expr"
)

// Parameters obtained from the YAML input file
type CDRParameters struct {
	Title           string  `yaml:"Title"`
	InnerRadius     float64 `yaml:"InnerRadius"`
	OuterRadius     float64 `yaml:"OuterRadius"`
	RefinementLevel int     `yaml:"RefinementLevel"`
	FEOrder         int     `yaml:"FEOrder"`
	Diffusion       float64 `yaml:"Diffusion"`
	Convection      string  `yaml:"Convection"` // two comma-separated clauses in x, y
	Reaction        float64 `yaml:"Reaction"`
	Forcing         string  `yaml:"Forcing"` // clause in x, y, t
	StartTime       float64 `yaml:"StartTime"`
	FinalTime       float64 `yaml:"FinalTime"`
	NSteps          int     `yaml:"NSteps"`
	SaveInterval    int     `yaml:"SaveInterval"`
	OutputDir       string  `yaml:"OutputDir"`
	Verbose         bool    `yaml:"Verbose"`
}

// NewDefault returns the reference rotating-flow configuration on the unit
// annulus.
func NewDefault() *CDRParameters {
	return &CDRParameters{
		Title:           "Convection-diffusion-reaction on an annulus",
		InnerRadius:     1.0,
		OuterRadius:     2.0,
		RefinementLevel: 2,
		FEOrder:         3,
		Diffusion:       1.e-3,
		Convection:      "-y, x",
		Reaction:        1.e-4,
		Forcing:         "exp(-2*t) * exp(-40*pow(x-1.5, 6)) * exp(-40*pow(y, 6))",
		StartTime:       0.0,
		FinalTime:       2.0,
		NSteps:          200,
		SaveInterval:    1,
		OutputDir:       ".",
		Verbose:         true,
	}
}

func (cp *CDRParameters) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, cp); err != nil {
		return err
	}
	return cp.Validate()
}

// Validate rejects configurations the solver cannot run. Expression fields
// must parse; the convection field must split into exactly two clauses.
func (cp *CDRParameters) Validate() error {
	if !(0 < cp.InnerRadius && cp.InnerRadius < cp.OuterRadius) {
		return fmt.Errorf("radii must satisfy 0 < inner < outer, got %g and %g",
			cp.InnerRadius, cp.OuterRadius)
	}
	if cp.RefinementLevel < 0 {
		return fmt.Errorf("refinement level must be non-negative, got %d", cp.RefinementLevel)
	}
	if cp.FEOrder < 1 {
		return fmt.Errorf("finite element order must be positive, got %d", cp.FEOrder)
	}
	if cp.Diffusion < 0 {
		return fmt.Errorf("diffusion coefficient must be non-negative, got %g", cp.Diffusion)
	}
	if !(cp.FinalTime > cp.StartTime) {
		return fmt.Errorf("final time %g must exceed start time %g", cp.FinalTime, cp.StartTime)
	}
	if cp.NSteps < 1 {
		return fmt.Errorf("step count must be positive, got %d", cp.NSteps)
	}
	if cp.SaveInterval < 1 {
		return fmt.Errorf("save interval must be positive, got %d", cp.SaveInterval)
	}
	if _, err := expr.ParseVector(cp.Convection, 2); err != nil {
		return fmt.Errorf("convection field: %w", err)
	}
	if _, err := expr.ParseScalar(cp.Forcing); err != nil {
		return fmt.Errorf("forcing term: %w", err)
	}
	return nil
}

func (cp *CDRParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", cp.Title)
	fmt.Printf("[%8.5f, %8.5f]\t= Annulus Radii\n", cp.InnerRadius, cp.OuterRadius)
	fmt.Printf("[%d]\t\t\t\t= Refinement Level\n", cp.RefinementLevel)
	fmt.Printf("[%d]\t\t\t\t= Finite Element Order\n", cp.FEOrder)
	fmt.Printf("%8.5g\t\t= Diffusion\n", cp.Diffusion)
	fmt.Printf("%8.5g\t\t= Reaction\n", cp.Reaction)
	fmt.Printf("[%s]\t\t= Convection\n", cp.Convection)
	fmt.Printf("[%s]\t= Forcing\n", cp.Forcing)
	fmt.Printf("[%8.5f, %8.5f]\t= Time Interval\n", cp.StartTime, cp.FinalTime)
	fmt.Printf("[%d]\t\t\t= Time Steps\n", cp.NSteps)
	fmt.Printf("[%d]\t\t\t\t= Save Interval\n", cp.SaveInterval)
}
