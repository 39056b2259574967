package resolver

import (
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-json"
)

type packageJSON struct {
	// The absolute path of the "main" field, not yet probed for extensions
	absMainPath string

	// If this is non-nil, each entry in this map is the absolute path of a file
	// with side effects. Any entry not in this map should be considered to have
	// no side effects, which means import statements for these files can be
	// removed if none of the imports are used. This is a convention from Webpack:
	// https://webpack.js.org/guides/tree-shaking/.
	//
	// Note that if a file is included, all statements that can't be proven to be
	// free of side effects must be included. This convention does not say
	// anything about whether any statements within the file have side effects or
	// not.
	sideEffectsMap      map[string]bool
	sideEffectsPatterns []string
}

type packageJSONFields struct {
	Main        *string         `json:"main"`
	SideEffects json.RawMessage `json:"sideEffects"`
}

func (r *resolver) parsePackageJSON(dir string) (*packageJSON, error) {
	packageJSONPath := r.fs.Join(dir, "package.json")
	contents, err := r.fs.ReadFile(packageJSONPath)
	if err != nil {
		return nil, fmt.Errorf("Cannot read file %q: %w", r.prettyText(packageJSONPath), err)
	}

	var fields packageJSONFields
	if err := json.Unmarshal([]byte(contents), &fields); err != nil {
		return nil, fmt.Errorf("Cannot parse %q: %w", r.prettyText(packageJSONPath), err)
	}

	result := &packageJSON{}

	// Read the "main" field
	if fields.Main != nil && *fields.Main != "" {
		result.absMainPath = r.fs.Join(dir, *fields.Main)
	}

	// Read the "sideEffects" field
	if len(fields.SideEffects) > 0 {
		var flag bool
		var patterns []string

		if err := json.Unmarshal(fields.SideEffects, &flag); err == nil {
			if !flag {
				result.sideEffectsMap = make(map[string]bool)
			}
		} else if err := json.Unmarshal(fields.SideEffects, &patterns); err == nil {
			result.sideEffectsMap = make(map[string]bool)
			for _, item := range patterns {
				// Webpack treats a pattern without a slash as matching in any directory
				if !strings.ContainsRune(item, '/') {
					item = "**/" + item
				}
				absPattern := r.fs.Join(dir, item)
				if strings.ContainsAny(item, "*?[") {
					result.sideEffectsPatterns = append(result.sideEffectsPatterns, absPattern)
				} else {
					result.sideEffectsMap[absPattern] = true
				}
			}
		} else {
			return nil, fmt.Errorf("The value for \"sideEffects\" in %q must be a boolean or an array",
				r.prettyText(packageJSONPath))
		}
	}

	return result, nil
}

// Returns true if the package marks this file as free of side effects
func (pkg *packageJSON) ignoresSideEffectsOf(absPath string) bool {
	if pkg.sideEffectsMap == nil {
		return false
	}
	if pkg.sideEffectsMap[absPath] {
		return false
	}
	for _, pattern := range pkg.sideEffectsPatterns {
		if globMatch(pattern, absPath) {
			return false
		}
	}
	return true
}

// A "**" segment matches any number of directories. Every other segment is
// matched using "path.Match".
func globMatch(pattern string, text string) bool {
	patternParts := strings.Split(pattern, "/")
	textParts := strings.Split(text, "/")

	var match func(p int, t int) bool
	match = func(p int, t int) bool {
		for p < len(patternParts) {
			if patternParts[p] == "**" {
				for skip := t; skip <= len(textParts); skip++ {
					if match(p+1, skip) {
						return true
					}
				}
				return false
			}
			if t == len(textParts) {
				return false
			}
			if ok, err := path.Match(patternParts[p], textParts[t]); err != nil || !ok {
				return false
			}
			p++
			t++
		}
		return t == len(textParts)
	}

	return match(0, 0)
}
