package model

import "strings"

// Normalize drops elements whose text is empty or whitespace-only after
// trimming. The relative order of the remaining elements is preserved; it is
// the traversal order of the dump, not a spatial order.
func Normalize(elements []Element) []Element {
	result := make([]Element, 0, len(elements))
	for _, el := range elements {
		if el.HasText() {
			result = append(result, el)
		}
	}
	return result
}

// FilterByText returns the elements whose text or content description
// contains the given text. If exact is true the whole (trimmed) label must
// match instead.
func FilterByText(elements []Element, text string, exact bool) []Element {
	if text == "" {
		return elements
	}
	var result []Element
	for _, el := range elements {
		if textMatchesElement(el, text, exact) {
			result = append(result, el)
		}
	}
	return result
}

// FindByText returns the first element in traversal order matching text.
func FindByText(elements []Element, text string, exact bool) (Element, bool) {
	for _, el := range elements {
		if textMatchesElement(el, text, exact) {
			return el, true
		}
	}
	return Element{}, false
}

// FindLastByText returns the last element in traversal order matching text.
// Bottom-of-page action buttons usually come after any inline mentions of
// the same word.
func FindLastByText(elements []Element, text string, exact bool) (Element, bool) {
	for i := len(elements) - 1; i >= 0; i-- {
		if textMatchesElement(elements[i], text, exact) {
			return elements[i], true
		}
	}
	return Element{}, false
}

// FindByClass returns the first element whose class ends with the given
// suffix (e.g. "EditText").
func FindByClass(elements []Element, suffix string) (Element, bool) {
	for _, el := range elements {
		if strings.HasSuffix(el.Class, suffix) {
			return el, true
		}
	}
	return Element{}, false
}

// FindByResourceID returns the first element whose resource id contains
// the given fragment.
func FindByResourceID(elements []Element, fragment string) (Element, bool) {
	if fragment == "" {
		return Element{}, false
	}
	for _, el := range elements {
		if strings.Contains(el.ResourceID, fragment) {
			return el, true
		}
	}
	return Element{}, false
}

// HasText reports whether any element matches text.
func HasText(elements []Element, text string, exact bool) bool {
	_, ok := FindByText(elements, text, exact)
	return ok
}

// FilterBelow returns the elements whose top edge is strictly below y.
func FilterBelow(elements []Element, y int) []Element {
	var result []Element
	for _, el := range elements {
		if el.Top() > y {
			result = append(result, el)
		}
	}
	return result
}

// FilterByBBox returns the elements whose bounds intersect bbox
// ([x1, y1, x2, y2]).
func FilterByBBox(elements []Element, bbox [4]int) []Element {
	var result []Element
	for _, el := range elements {
		if boundsIntersect(el.Bounds, bbox) {
			result = append(result, el)
		}
	}
	return result
}

func textMatchesElement(el Element, text string, exact bool) bool {
	if exact {
		return exactFieldMatch(el.Text, text) || exactFieldMatch(el.ContentDesc, text)
	}
	return strings.Contains(el.Text, text) || strings.Contains(el.ContentDesc, text)
}

// exactFieldMatch compares after trimming surrounding whitespace, which
// uiautomator keeps verbatim from the view.
func exactFieldMatch(field, text string) bool {
	return field != "" && strings.TrimSpace(field) == strings.TrimSpace(text)
}

// boundsIntersect checks if two [x1, y1, x2, y2] rectangles overlap.
func boundsIntersect(a, b [4]int) bool {
	return a[0] < b[2] && a[2] > b[0] && a[1] < b[3] && a[3] > b[1]
}
