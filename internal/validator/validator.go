package validator

// =============================================================================
// VALIDATOR PHILOSOPHY: CRASH EARLY, CRASH LOUD
// =============================================================================
//
// The CUE validator is the contract guard on both ends of an association run:
// design files coming in, reports going out.
//
// Without validation a misspelled field in a design file ("contact" instead
// of "contacts") silently yields a device with no connections, the solver
// leaves it unassociated, and the residual looks like a real LVS error.
//
// With validation:
// - Immediate failure with a clear error
// - "field not allowed" points at the offending key
// - The report consumer can trust every row it reads
//
// WHEN VALIDATION FAILS:
// 1. DON'T relax the schema to make a file pass
// 2. DO fix the producer of the file (extractor export, netlister, script)
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed design_schema.cue
var designSchemaFS embed.FS

//go:embed report_schema.cue
var reportSchemaFS embed.FS

// Validator checks values against one definition of an embedded schema.
// A Validator owns its CUE context and must not be shared across goroutines.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
	def    string
	what   string
}

// New returns a validator for design input files (#Design).
func New() (*Validator, error) {
	return load(designSchemaFS, "design_schema.cue", "#Design", "design")
}

// NewReportValidator returns a validator for association reports (#Report).
func NewReportValidator() (*Validator, error) {
	return load(reportSchemaFS, "report_schema.cue", "#Report", "report")
}

func load(fs embed.FS, file, def, what string) (*Validator, error) {
	ctx := cuecontext.New()

	schemaBytes, err := fs.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("loading embedded %s schema: %w", what, err)
	}

	schema := ctx.CompileBytes(schemaBytes)
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", what, schema.Err())
	}

	return &Validator{
		ctx:    ctx,
		schema: schema,
		def:    def,
		what:   what,
	}, nil
}

// Validate marshals data to JSON and checks it against the schema.
// Returns nil if valid, or a detailed error explaining what failed.
func (v *Validator) Validate(data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s to JSON: %w", v.what, err)
	}
	return v.ValidateJSON(jsonBytes)
}

// ValidateJSON validates JSON bytes directly against the schema.
func (v *Validator) ValidateJSON(jsonBytes []byte) error {
	unified, err := v.unify(jsonBytes)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", v.what, err)
	}
	return nil
}

// ValidationErrors returns every validation error as a separate line.
func (v *Validator) ValidationErrors(jsonBytes []byte) []string {
	unified, err := v.unify(jsonBytes)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

func (v *Validator) unify(jsonBytes []byte) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling %s as CUE: %w", v.what, dataValue.Err())
	}

	def := v.schema.LookupPath(cue.ParsePath(v.def))
	if def.Err() != nil {
		return cue.Value{}, fmt.Errorf("looking up %s definition: %w", v.def, def.Err())
	}

	return def.Unify(dataValue), nil
}
