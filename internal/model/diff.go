package model

import (
	"crypto/sha256"
	"fmt"
)

// ScreenDiff is the result of comparing two reads of the screen by content
// hash. Traversal indices shift whenever a node is inserted, so elements
// are matched by what they show rather than by index.
type ScreenDiff struct {
	Added          []Element `yaml:"added,omitempty"   json:"added,omitempty"`
	Removed        []Element `yaml:"removed,omitempty" json:"removed,omitempty"`
	UnchangedCount int       `yaml:"unchanged_count"   json:"unchanged_count"`
}

// Changed reports whether anything was added or removed.
func (d ScreenDiff) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// ElementHash computes a stable identity for an element from its class,
// resource id, text, content description, and bounds.
func ElementHash(el Element) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%v", el.Class, el.ResourceID, el.Text, el.ContentDesc, el.Bounds)
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// DiffScreens compares two element lists. Elements present in both reads
// (same hash) count as unchanged.
func DiffScreens(prev, curr []Element) ScreenDiff {
	prevByHash := make(map[string]int, len(prev))
	for _, el := range prev {
		prevByHash[ElementHash(el)]++
	}
	currByHash := make(map[string]int, len(curr))
	for _, el := range curr {
		currByHash[ElementHash(el)]++
	}

	var diff ScreenDiff
	for _, el := range curr {
		h := ElementHash(el)
		if prevByHash[h] > 0 {
			prevByHash[h]--
			diff.UnchangedCount++
			continue
		}
		diff.Added = append(diff.Added, el)
	}
	for _, el := range prev {
		h := ElementHash(el)
		if currByHash[h] > 0 {
			currByHash[h]--
			continue
		}
		diff.Removed = append(diff.Removed, el)
	}
	return diff
}
