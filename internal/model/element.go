package model

import "strings"

// Element represents one node of an Android UI hierarchy dump.
//
// Index is the traversal position within the read that produced the element.
// It is only meaningful for that read: any action that changes the screen
// invalidates it, so callers re-read and re-resolve by text or bounds instead
// of holding on to an index.
type Element struct {
	Index       int    `yaml:"i"            json:"i"`            // Traversal index within one read
	Role        string `yaml:"r"            json:"r"`            // Abbreviated role code (see MapRole)
	Text        string `yaml:"t,omitempty"  json:"t,omitempty"`  // Visible text
	ContentDesc string `yaml:"d,omitempty"  json:"d,omitempty"`  // content-desc attribute
	Class       string `yaml:"c,omitempty"  json:"c,omitempty"`  // Android widget class name
	ResourceID  string `yaml:"id,omitempty" json:"id,omitempty"` // resource-id attribute
	Bounds      [4]int `yaml:"b"            json:"b"`            // [x1, y1, x2, y2] in device pixels
	Clickable   bool   `yaml:"k,omitempty"  json:"k,omitempty"`  // Accepts taps
	Focused     bool   `yaml:"f,omitempty"  json:"f,omitempty"`  // Has input focus
}

// Top returns the top edge (y1) of the element.
func (e Element) Top() int { return e.Bounds[1] }

// Width returns the horizontal extent of the element.
func (e Element) Width() int { return e.Bounds[2] - e.Bounds[0] }

// Height returns the vertical extent of the element.
func (e Element) Height() int { return e.Bounds[3] - e.Bounds[1] }

// Center returns the tap point of the element.
func (e Element) Center() (int, int) {
	return (e.Bounds[0] + e.Bounds[2]) / 2, (e.Bounds[1] + e.Bounds[3]) / 2
}

// HasText reports whether the element carries non-whitespace text.
func (e Element) HasText() bool {
	return strings.TrimSpace(e.Text) != ""
}

// Label returns the text a human would read for the element: its text, or
// its content description when it has no text.
func (e Element) Label() string {
	if e.HasText() {
		return e.Text
	}
	return e.ContentDesc
}
