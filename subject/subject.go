// Package subject models hierarchical NATS subjects: validation, wildcard
// matching, and overlap detection between subject patterns.
package subject

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/c360/syncbus/errors"
)

// Subject grammar constants
const (
	// Delimiter separates subject tokens
	Delimiter = "."
	// Wildcard matches exactly one token
	Wildcard = "*"
	// TailWildcard matches the remainder of a subject
	TailWildcard = ">"

	// maxTokenLen bounds a single token
	maxTokenLen = 255
)

// Validate checks that s is a well-formed subject or subject pattern.
// Wildcard tokens are permitted; use ValidateComponent for identifier
// components that must be literal.
func Validate(s string) error {
	if s == "" {
		return errors.WrapInvalid(errors.ErrInvalidSubject, "Subject", "Validate", "subject is empty")
	}

	tokens := strings.Split(s, Delimiter)
	nonEmpty := false
	for _, token := range tokens {
		if strings.TrimSpace(token) != "" {
			nonEmpty = true
			break
		}
	}
	if !nonEmpty {
		return errors.WrapInvalid(errors.ErrInvalidSubject, "Subject", "Validate", "subject has no tokens")
	}

	for i, token := range tokens {
		if token == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: empty token at position %d", errors.ErrInvalidSubject, i),
				"Subject", "Validate", "check tokens")
		}
		if len(token) > maxTokenLen {
			return errors.WrapInvalid(
				fmt.Errorf("%w: token at position %d exceeds %d characters", errors.ErrInvalidSubject, i, maxTokenLen),
				"Subject", "Validate", "check tokens")
		}
		for _, r := range token {
			if unicode.IsSpace(r) || unicode.IsControl(r) {
				return errors.WrapInvalid(
					fmt.Errorf("%w: whitespace or control character in token %q", errors.ErrInvalidSubject, token),
					"Subject", "Validate", "check tokens")
			}
		}
	}

	return nil
}

// ValidateComponent checks a single identifier component, such as an
// application name used to derive subjects. Components must be valid tokens
// and additionally must not contain wildcards or the delimiter.
func ValidateComponent(name string) error {
	if err := Validate(name); err != nil {
		return err
	}
	if strings.Contains(name, Delimiter) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: component %q contains delimiter", errors.ErrInvalidSubject, name),
			"Subject", "ValidateComponent", "check component")
	}
	if strings.Contains(name, Wildcard) || strings.Contains(name, TailWildcard) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: component %q contains wildcard", errors.ErrInvalidSubject, name),
			"Subject", "ValidateComponent", "check component")
	}
	return nil
}

// Match reports whether subject matches pattern. A "*" pattern token matches
// exactly one subject token. A trailing ">" matches the remainder of the
// subject. All other tokens must match literally, and lengths must agree.
func Match(pattern, subj string) bool {
	pTokens := strings.Split(pattern, Delimiter)
	sTokens := strings.Split(subj, Delimiter)

	for i, pt := range pTokens {
		if pt == TailWildcard && i == len(pTokens)-1 {
			return true
		}
		if i >= len(sTokens) {
			return false
		}
		if pt == Wildcard {
			continue
		}
		if pt != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

// Overlap reports whether some concrete subject is matched by both patterns.
// A tail wildcard on either side at its final position overlaps everything
// that survived the walk so far. A "*" on either side matches any token.
func Overlap(a, b string) bool {
	aTokens := strings.Split(a, Delimiter)
	bTokens := strings.Split(b, Delimiter)

	for i := 0; ; i++ {
		aLeft := i < len(aTokens)
		bLeft := i < len(bTokens)

		// A tail wildcard swallows whatever the other side has left
		if aLeft && aTokens[i] == TailWildcard {
			return true
		}
		if bLeft && bTokens[i] == TailWildcard {
			return true
		}

		// Both exhausted simultaneously with every token pair matched
		if !aLeft && !bLeft {
			return true
		}
		// One side exhausted without a tail wildcard on the other
		if !aLeft || !bLeft {
			return false
		}

		at, bt := aTokens[i], bTokens[i]
		if at == Wildcard || bt == Wildcard {
			continue
		}
		if at != bt {
			return false
		}
	}
}

// Covered reports whether subj is matched by any pattern in the set.
func Covered(patterns []string, subj string) bool {
	for _, pattern := range patterns {
		if Match(pattern, subj) {
			return true
		}
	}
	return false
}
