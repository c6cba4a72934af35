// Package paths classifies absolute file paths into the catalog's roots
// (models, input, output) and model categories, and guards destination
// paths against traversal outside their configured bases.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"assetbank/internal/config"
	"assetbank/internal/constants"
)

var (
	ErrOutsideRoots = errors.New("path is not under any configured root")
	ErrOutsideBase  = errors.New("path escapes its base directory")
)

// Category is one models bucket backed by one or more base directories.
// The first base receives uploads for the category.
type Category struct {
	Name  string
	Bases []string
}

// Classifier resolves paths against the configured roots. All bases are
// absolute and cleaned at construction; classification is pure string work.
type Classifier struct {
	input      string
	output     string
	categories []Category // sorted by name for deterministic matching
}

// NewClassifier builds a Classifier from the roots configuration.
func NewClassifier(roots config.RootsConfig) *Classifier {
	c := &Classifier{
		input:  filepath.Clean(roots.Input),
		output: filepath.Clean(roots.Output),
	}
	names := make([]string, 0, len(roots.Models))
	for name := range roots.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bases := make([]string, 0, len(roots.Models[name]))
		for _, b := range roots.Models[name] {
			bases = append(bases, filepath.Clean(b))
		}
		c.categories = append(c.categories, Category{Name: name, Bases: bases})
	}
	return c
}

// isUnder reports whether path lies strictly under base (or equals it).
func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}

// Classify finds the root whose base prefixes path. For models it also
// identifies the first category (in name order) whose base prefixes path.
func (c *Classifier) Classify(path string) (root, category string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	abs = filepath.Clean(abs)

	for _, cat := range c.categories {
		for _, base := range cat.Bases {
			if isUnder(abs, base) {
				return constants.RootModels, cat.Name, nil
			}
		}
	}
	if isUnder(abs, c.input) {
		return constants.RootInput, "", nil
	}
	if isUnder(abs, c.output) {
		return constants.RootOutput, "", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrOutsideRoots, path)
}

// NameAndTags returns the display name (final path component) and the tag
// list for a file: the root first, then the category for models.
// This is the inverse of the upload tag contract.
func (c *Classifier) NameAndTags(path string) (name string, tags []string, err error) {
	root, category, err := c.Classify(path)
	if err != nil {
		return "", nil, err
	}
	tags = []string{root}
	if category != "" {
		tags = append(tags, category)
	}
	return filepath.Base(path), tags, nil
}

// RelativeFilename returns path relative to the base of its root (for
// models, the matching category base), with forward slashes.
func (c *Classifier) RelativeFilename(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	base, ok := c.baseFor(abs)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoots, path)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (c *Classifier) baseFor(abs string) (string, bool) {
	for _, cat := range c.categories {
		for _, base := range cat.Bases {
			if isUnder(abs, base) {
				return base, true
			}
		}
	}
	if isUnder(abs, c.input) {
		return c.input, true
	}
	if isUnder(abs, c.output) {
		return c.output, true
	}
	return "", false
}

// PrefixesForRoot returns the absolute base directories for a root.
// Unknown roots yield nil.
func (c *Classifier) PrefixesForRoot(root string) []string {
	switch root {
	case constants.RootModels:
		var bases []string
		for _, cat := range c.categories {
			bases = append(bases, cat.Bases...)
		}
		return bases
	case constants.RootInput:
		return []string{c.input}
	case constants.RootOutput:
		return []string{c.output}
	}
	return nil
}

// Categories returns the model categories in deterministic order.
func (c *Classifier) Categories() []Category {
	return c.categories
}

// DestinationForTags resolves the upload destination base directory from a
// validated tag list: tags[0] is the root; for models, tags[1] names the
// category whose first base receives the file.
func (c *Classifier) DestinationForTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", errors.New("no tags supplied")
	}
	switch tags[0] {
	case constants.RootInput:
		return c.input, nil
	case constants.RootOutput:
		return c.output, nil
	case constants.RootModels:
		if len(tags) < 2 {
			return "", errors.New("models uploads require a category tag")
		}
		for _, cat := range c.categories {
			if cat.Name == tags[1] {
				return cat.Bases[0], nil
			}
		}
		return "", fmt.Errorf("unknown model category %q", tags[1])
	}
	return "", fmt.Errorf("unknown root %q", tags[0])
}

// EnsureWithinBase normalizes candidate and base and fails unless the
// candidate stays under the base. Guards os.Rename destinations built
// from client-supplied names.
func EnsureWithinBase(candidate, base string) error {
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return err
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return err
	}
	if !isUnder(filepath.Clean(absCandidate), filepath.Clean(absBase)) {
		return fmt.Errorf("%w: %s outside %s", ErrOutsideBase, candidate, base)
	}
	return nil
}
