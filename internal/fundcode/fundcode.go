// Package fundcode handles fund code parsing and validation. A fund code
// encodes the fund's category so listings and rules can be grouped without
// a join: {PREFIX}-{NNN}, e.g. GE-001 (green energy fund #1).
package fundcode

import (
	"errors"
	"fmt"
	"regexp"
)

// Fund categories.
const (
	TypeGreenEnergy    = "green_energy"
	TypeEnvironmental  = "environmental_protection"
	TypeClimateChange  = "climate_change"
	TypeSustainableDev = "sustainable_development"
	TypeESG            = "esg"
)

var typeByPrefix = map[string]string{
	"GE":  TypeGreenEnergy,
	"EP":  TypeEnvironmental,
	"CC":  TypeClimateChange,
	"SD":  TypeSustainableDev,
	"ESG": TypeESG,
}

// codeRegex matches: {PREFIX}-{NNN} with a 3-6 digit sequence.
// Example: GE-001, ESG-1042
var codeRegex = regexp.MustCompile(`^([A-Z]{2,3})-(\d{3,6})$`)

var (
	ErrInvalidCode = errors.New("fundcode: invalid code format")
	ErrInvalidType = errors.New("fundcode: unknown fund category prefix")
)

// Code represents a parsed fund code.
type Code struct {
	Raw      string `json:"raw"`
	Prefix   string `json:"prefix"`
	Sequence string `json:"sequence"`
	Type     string `json:"type"`
}

// Parse parses and validates a fund code string.
// Format: {PREFIX}-{NNN}
func Parse(code string) (*Code, error) {
	matches := codeRegex.FindStringSubmatch(code)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {PREFIX}-{NNN})", ErrInvalidCode, code)
	}

	prefix := matches[1]
	fundType, ok := typeByPrefix[prefix]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, prefix)
	}

	return &Code{
		Raw:      code,
		Prefix:   prefix,
		Sequence: matches[2],
		Type:     fundType,
	}, nil
}
