package scenario

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
)

// compileSchema builds the embedded schema once. The schema is part of the
// binary; a compile failure is a programming error and panics at first use.
func compileSchema() (*cue.Context, cue.Value) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schemaValue = schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := schemaValue.Err(); err != nil {
			panic(fmt.Sprintf("scenario: embedded schema does not compile: %v", err))
		}
	})
	return schemaCtx, schemaValue
}

// vetSchema unifies the raw scenario YAML with the embedded CUE schema and
// reports constraint violations with source positions. This catches typos
// and out-of-range values before the structural validation pass.
func vetSchema(data []byte) error {
	ctx, schema := compileSchema()

	file, err := cueyaml.Extract("scenario.yaml", data)
	if err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema violation:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}
