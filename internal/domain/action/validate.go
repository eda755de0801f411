package action

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDefinition = errors.New("invalid action definition")

// Validate checks the structural contract of a definition. It has no side effects.
func Validate(d *Definition) error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}

	var problems []string
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		problems = append(problems, "description is required")
	}
	if d.Run == nil {
		problems = append(problems, "run is required")
	}
	if d.OutputExample == nil {
		problems = append(problems, "outputExample is required")
	}
	if d.Version < 0 {
		problems = append(problems, "version must be positive")
	}

	seen := make(map[string]string)
	check := func(list, kind string, names []string) {
		for _, n := range names {
			if strings.TrimSpace(n) == "" {
				problems = append(problems, fmt.Sprintf("inputs.%s contains an empty name", kind))
				continue
			}
			if prev, dup := seen[n]; dup {
				problems = append(problems, fmt.Sprintf("input %q declared in %s and %s", n, prev, list))
				continue
			}
			seen[n] = list
		}
	}
	check("required", "required", d.Inputs.Required)
	check("optional", "optional", d.Inputs.Optional)

	if len(problems) > 0 {
		name := d.Name
		if name == "" {
			name = "<unnamed>"
		}
		return fmt.Errorf("%w %s: %s", ErrInvalidDefinition, name, strings.Join(problems, "; "))
	}
	return nil
}
