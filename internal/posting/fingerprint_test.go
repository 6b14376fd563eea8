package posting_test

import (
	"testing"

	"jobmate/applier-service/internal/posting"
)

// The same role listed with cosmetic differences must collapse to one
// fingerprint.
func TestFingerprint_NormalisesEquivalentListings(t *testing.T) {
	base := posting.Fingerprint("Acme Corp", "Backend Engineer", "Cape Town")

	equivalents := []struct {
		employer string
		title    string
		location string
	}{
		{"acme corp", "backend engineer", "cape town"},
		{"ACME CORP", "BACKEND ENGINEER", "CAPE TOWN"},
		{"Acme  Corp", "Backend   Engineer", "Cape Town"},
		{"Acme Corp", "Backend-Engineer", "Cape Town"},
		{"Acme Corp.", "Backend Engineer!", "Cape Town"},
		{" Acme Corp ", "Backend Engineer", " Cape Town "},
	}
	for _, e := range equivalents {
		got := posting.Fingerprint(e.employer, e.title, e.location)
		if got != base {
			t.Errorf("Fingerprint(%q, %q, %q) = %s, want %s",
				e.employer, e.title, e.location, got, base)
		}
	}
}

func TestFingerprint_DistinguishesDifferentListings(t *testing.T) {
	base := posting.Fingerprint("Acme Corp", "Backend Engineer", "Cape Town")

	different := []struct {
		employer string
		title    string
		location string
	}{
		{"Acme Corp", "Frontend Engineer", "Cape Town"},
		{"Other Corp", "Backend Engineer", "Cape Town"},
		{"Acme Corp", "Backend Engineer", "Durban"},
	}
	for _, d := range different {
		got := posting.Fingerprint(d.employer, d.title, d.location)
		if got == base {
			t.Errorf("Fingerprint(%q, %q, %q) should differ from the base listing",
				d.employer, d.title, d.location)
		}
	}
}

// Field order matters: swapping employer and title must not collide.
func TestFingerprint_FieldsAreDelimited(t *testing.T) {
	a := posting.Fingerprint("alpha", "beta", "gamma")
	b := posting.Fingerprint("beta", "alpha", "gamma")
	if a == b {
		t.Error("swapped employer/title should produce a different fingerprint")
	}
}

func TestFingerprint_StableLength(t *testing.T) {
	got := posting.Fingerprint("Acme", "Engineer", "")
	if len(got) != 32 {
		t.Errorf("fingerprint length = %d, want 32 hex chars", len(got))
	}
}
