package fundcode

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	c, err := Parse("GE-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Prefix != "GE" {
		t.Errorf("expected prefix=GE, got %s", c.Prefix)
	}
	if c.Sequence != "001" {
		t.Errorf("expected sequence=001, got %s", c.Sequence)
	}
	if c.Type != TypeGreenEnergy {
		t.Errorf("expected type=%s, got %s", TypeGreenEnergy, c.Type)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"GE",
		"GE-",
		"GE-1",       // sequence too short
		"GE-1234567", // sequence too long
		"ge-001",     // lowercase prefix
		"GEEE-001",   // prefix too long
		"GE_001",
		"GE-001-X",
	}
	for _, code := range tests {
		_, err := Parse(code)
		if err == nil {
			t.Errorf("expected error for code %q", code)
		}
		if err != nil && !errors.Is(err, ErrInvalidCode) {
			t.Errorf("expected ErrInvalidCode for %q, got %v", code, err)
		}
	}
}

func TestParse_UnknownPrefix(t *testing.T) {
	_, err := Parse("XX-001")
	if !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

func TestParse_AllCategories(t *testing.T) {
	tests := map[string]string{
		"GE-001":   TypeGreenEnergy,
		"EP-042":   TypeEnvironmental,
		"CC-100":   TypeClimateChange,
		"SD-9999":  TypeSustainableDev,
		"ESG-1042": TypeESG,
	}
	for code, want := range tests {
		c, err := Parse(code)
		if err != nil {
			t.Errorf("unexpected error for %q: %v", code, err)
			continue
		}
		if c.Type != want {
			t.Errorf("code %q: expected type=%s, got %s", code, want, c.Type)
		}
	}
}
