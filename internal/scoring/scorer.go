// Package scoring maps (profile, posting) pairs to match scores using a
// versioned weight vector kept current by offline retraining.
package scoring

import (
	"fmt"
	"strings"
)

// Feature keys of the learned weight vector. Rationale tags embed the
// feature key before the first colon, which is how feedback aggregation
// attributes outcome signals back to the features that produced a match.
const (
	FeatureSkillOverlap   = "skill_overlap"
	FeatureLocationExact  = "location_exact"
	FeatureLocationRegion = "location_region"
	FeatureLocationRemote = "location_remote"
	FeatureRoleMatch      = "role_match"
)

// DefaultWeights is the weight vector of the bootstrap model version, used
// until the first retraining run produces a learned one.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FeatureSkillOverlap:   0.60,
		FeatureLocationExact:  0.30,
		FeatureLocationRegion: 0.20,
		FeatureLocationRemote: 0.12,
		FeatureRoleMatch:      0.10,
	}
}

// Profile and Posting are the scorer's view of the two sides of a match.
// Keeping them local decouples the pure function from storage concerns.
type Profile struct {
	Skills         []string
	Location       string
	RemoteOK       bool
	RoleCategories []string
	SalaryFloor    int
}

type Posting struct {
	Title          string
	Location       string
	RemoteEligible bool
	RequiredSkills []string
	SalaryOffered  int
}

// Scorer scores postings against profiles with one pinned model version.
// Score is pure: identical inputs under the same version always produce the
// same output, which keeps a cycle's ranking reproducible.
type Scorer struct {
	version int
	weights map[string]float64
}

// New returns a Scorer pinned to the given model version.
func New(mv *ModelVersion) *Scorer {
	return &Scorer{version: mv.Version, weights: mv.Weights}
}

// Version reports the pinned model version.
func (s *Scorer) Version() int { return s.version }

// Score returns the match score in [0,1] and the rationale tags explaining
// it. A posting paying below the profile's salary floor scores 0 regardless
// of every other factor.
func (s *Scorer) Score(p Profile, j Posting) (float64, []string) {
	if j.SalaryOffered > 0 && j.SalaryOffered < p.SalaryFloor {
		return 0, []string{"salary:below_floor"}
	}

	rationale := []string{"salary:ok"}
	var score float64

	matched, total := skillOverlap(p.Skills, j.RequiredSkills)
	if total > 0 {
		ratio := float64(matched) / float64(total)
		score += ratio * s.weights[FeatureSkillOverlap]
		rationale = append(rationale, fmt.Sprintf("%s:%d/%d", FeatureSkillOverlap, matched, total))
	}

	switch locationMatch(p, j) {
	case FeatureLocationExact:
		score += s.weights[FeatureLocationExact]
		rationale = append(rationale, FeatureLocationExact)
	case FeatureLocationRegion:
		score += s.weights[FeatureLocationRegion]
		rationale = append(rationale, FeatureLocationRegion)
	case FeatureLocationRemote:
		score += s.weights[FeatureLocationRemote]
		rationale = append(rationale, FeatureLocationRemote)
	default:
		rationale = append(rationale, "location:mismatch")
	}

	if roleMatches(p.RoleCategories, j.Title) {
		score += s.weights[FeatureRoleMatch]
		rationale = append(rationale, FeatureRoleMatch)
	}

	if score > 1 {
		score = 1
	}

	return score, rationale
}

// skillOverlap counts how many required skills the profile covers.
func skillOverlap(have, required []string) (matched, total int) {
	if len(required) == 0 {
		return 0, 0
	}

	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[canon(s)] = true
	}

	for _, s := range required {
		total++
		if set[canon(s)] {
			matched++
		}
	}
	return matched, total
}

// locationMatch walks the ladder: exact > same region > remote-eligible >
// mismatch. Regions compare on the last comma-separated component, so
// "Cape Town, Western Cape" and "Stellenbosch, Western Cape" land in the
// same bucket.
func locationMatch(p Profile, j Posting) string {
	userLoc := canon(p.Location)
	jobLoc := canon(j.Location)

	if userLoc != "" && userLoc == jobLoc {
		return FeatureLocationExact
	}
	if r1, r2 := region(p.Location), region(j.Location); r1 != "" && r1 == r2 {
		return FeatureLocationRegion
	}
	if p.RemoteOK && j.RemoteEligible {
		return FeatureLocationRemote
	}
	return ""
}

func region(location string) string {
	parts := strings.Split(location, ",")
	return canon(parts[len(parts)-1])
}

// roleMatches reports whether any desired role category appears in the
// posting title.
func roleMatches(categories []string, title string) bool {
	t := canon(title)
	for _, c := range categories {
		if c = canon(c); c != "" && strings.Contains(t, c) {
			return true
		}
	}
	return false
}

func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FeatureOf extracts the feature key from a rationale tag. Tags that do not
// start with a known feature key return "".
func FeatureOf(tag string) string {
	key := tag
	if i := strings.Index(tag, ":"); i >= 0 {
		key = tag[:i]
	}
	switch key {
	case FeatureSkillOverlap, FeatureLocationExact, FeatureLocationRegion,
		FeatureLocationRemote, FeatureRoleMatch:
		return key
	}
	return ""
}
