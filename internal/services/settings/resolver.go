package settings

import (
	"golang.org/x/text/cases"
)

// State summarizes what an editor should show for a tree.
type State int

const (
	// StateMissing means no definition exists for the tree at all.
	StateMissing State = iota
	// StateNoEditable means a definition exists but every setting is hidden.
	StateNoEditable
	// StateEditable means at least one setting should be shown.
	StateEditable
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateNoEditable:
		return "no_editable"
	case StateEditable:
		return "editable"
	}
	return "unknown"
}

// Visible reports whether a setting should be exposed to the operator.
// A predicate naming a sibling that does not exist hides the setting.
func Visible(s Setting, tree Tree) bool {
	if s.Readonly.Predicate == nil {
		return !s.Readonly.Fixed
	}

	p := s.Readonly.Predicate
	for _, sibling := range tree.Settings {
		if !sameName(sibling.Name, p.Name) {
			continue
		}
		return contains(p.Values, sibling.Current) != p.Negate
	}
	return false
}

// VisibleSettings returns the visible subset of a tree, in tree order.
func VisibleSettings(tree Tree) []Setting {
	var visible []Setting
	for _, s := range tree.Settings {
		if Visible(s, tree) {
			visible = append(visible, s)
		}
	}
	return visible
}

// Classify reports the aggregate state of a tree.
func Classify(tree Tree) State {
	if len(tree.Settings) == 0 {
		return StateMissing
	}
	for _, s := range tree.Settings {
		if Visible(s, tree) {
			return StateEditable
		}
	}
	return StateNoEditable
}

func sameName(a, b string) bool {
	// Casers are stateful and not safe to share between goroutines.
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}

func contains(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
