// Search-space documents: the declarative YAML form of grids, ranges,
// and distributions supplied by external configuration.
package optimize

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// SearchSpace is the parsed form of a search-space document. Any of the
// three sections may be present; each is validated up front so that a
// malformed space fails before any evaluation starts.
type SearchSpace struct {
	Ranges        Ranges        `yaml:"ranges"`
	Grid          Grid          `yaml:"grid"`
	Distributions Distributions `yaml:"distributions"`
}

// LoadSpace parses and validates a YAML search-space document. Unknown
// fields are rejected.
func LoadSpace(data []byte) (*SearchSpace, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var space SearchSpace
	if err := dec.Decode(&space); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigurationError{Reason: "empty search space document"}
		}
		return nil, fmt.Errorf("failed to parse search space: %w", err)
	}

	if len(space.Ranges) == 0 && len(space.Grid) == 0 && len(space.Distributions) == 0 {
		return nil, &ConfigurationError{Reason: "search space declares no ranges, grid, or distributions"}
	}
	if len(space.Ranges) > 0 {
		if err := space.Ranges.Validate(); err != nil {
			return nil, err
		}
	}
	if len(space.Distributions) > 0 {
		if err := space.Distributions.Validate(); err != nil {
			return nil, err
		}
	}
	for name, values := range space.Grid {
		if len(values) == 0 {
			return nil, &ConfigurationError{Param: name, Reason: "empty value list in grid"}
		}
	}
	return &space, nil
}
