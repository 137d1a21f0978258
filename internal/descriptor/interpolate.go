package descriptor

import (
	"github.com/compose-spec/compose-go/v2/template"
)

// LookupFunc resolves a variable the way os.LookupEnv does.
type LookupFunc func(string) (string, bool)

// interpolate expands compose variable references: $VAR, ${VAR},
// ${VAR:-default}, ${VAR-default}, ${VAR:?message}, ${VAR?message} and the
// :+ / + alternates. "$$" is a literal dollar.
func interpolate(in string, lookup LookupFunc) (string, error) {
	return template.SubstituteWithOptions(in, template.Mapping(lookup), template.WithoutLogging)
}
