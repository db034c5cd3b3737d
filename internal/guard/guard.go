// Package guard clears resource paths against a glob policy and rate
// limits clients. Rejections are hard errors, never silent skips.
package guard

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrPathRejected marks a path outside the policy.
var ErrPathRejected = errors.New("path rejected")

// Policy defines which resource paths the engine may touch. Deny globs
// win over allow globs; an empty allow list allows everything not
// denied.
type Policy struct {
	AllowedPathGlobs []string `json:"allowed_path_globs" yaml:"allowed_path_globs"`
	DeniedPathGlobs  []string `json:"denied_path_globs" yaml:"denied_path_globs"`
}

// DefaultPolicy allows everything; deployments tighten it in config.
var DefaultPolicy = Policy{}

// Guard enforces the path policy.
type Guard struct {
	policy Policy
}

// New creates a guard for the given policy.
func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckPath normalizes path (clean + absolute) and clears it against
// the policy. The normalized path is returned even on rejection so
// callers can report it.
func (g *Guard) CheckPath(path string) (string, error) {
	norm := filepath.Clean(path)
	if abs, err := filepath.Abs(norm); err == nil {
		norm = abs
	}

	for _, pattern := range g.policy.DeniedPathGlobs {
		if match, err := doublestar.PathMatch(pattern, norm); err == nil && match {
			return norm, fmt.Errorf("%w: %s matches denied glob %q", ErrPathRejected, norm, pattern)
		}
	}

	if len(g.policy.AllowedPathGlobs) == 0 {
		return norm, nil
	}
	for _, pattern := range g.policy.AllowedPathGlobs {
		if match, err := doublestar.PathMatch(pattern, norm); err == nil && match {
			return norm, nil
		}
	}
	return norm, fmt.Errorf("%w: %s matches no allowed glob", ErrPathRejected, norm)
}
