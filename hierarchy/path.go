package hierarchy

import (
	"strings"

	"github.com/c360/varnet/errors"
)

// Modifier changes where an owner appears in the virtual hierarchy.
type Modifier int

const (
	// None places the owner below its parent under its own name
	None Modifier = iota
	// HideThis merges the owner's content into its parent
	HideThis
	// MoveToRoot places the owner directly below the root
	MoveToRoot
	// OneLevelUp places the owner next to its parent instead of below it
	OneLevelUp
	// OneUpAndHide merges the owner's content into its grandparent
	OneUpAndHide
)

// String returns the modifier name
func (m Modifier) String() string {
	switch m {
	case None:
		return "none"
	case HideThis:
		return "hideThis"
	case MoveToRoot:
		return "moveToRoot"
	case OneLevelUp:
		return "oneLevelUp"
	case OneUpAndHide:
		return "oneUpAndHide"
	default:
		return "unknown"
	}
}

// ModifierOf derives the modifier a path-like owner name expresses: "/X" moves to the
// root, "../X" goes one level up, ".." goes one up and hides, "" or "." hides.
func ModifierOf(name string) Modifier {
	segs := splitPath(name)
	switch {
	case strings.HasPrefix(name, "/"):
		return MoveToRoot
	case len(segs) == 0:
		return HideThis
	case len(segs) == 1 && segs[0] == "..":
		return OneUpAndHide
	case segs[0] == "..":
		return OneLevelUp
	default:
		return None
	}
}

// splitPath splits on "/" dropping empty and "." segments.
func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s == "" || s == "." {
			continue
		}
		out = append(out, s)
	}
	return out
}

// applyName moves the virtual location stack according to a path-like name.
func applyName(stack []string, name string) ([]string, error) {
	if strings.HasPrefix(name, "/") {
		stack = stack[:0]
	}
	for _, seg := range splitPath(name) {
		if seg == ".." {
			if len(stack) == 0 {
				return nil, errors.Fatalf(errors.ErrMalformedPath, "Tree", "VirtualPath",
					"name %q escapes above the root", name)
			}
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, seg)
	}
	return stack, nil
}

// applyModifier moves the stack for an owner with an explicit modifier.
func applyModifier(stack []string, name string, mod Modifier) ([]string, error) {
	switch mod {
	case HideThis:
		return stack, nil
	case MoveToRoot:
		return applyName(stack[:0], name)
	case OneLevelUp, OneUpAndHide:
		if len(stack) == 0 {
			return nil, errors.Fatalf(errors.ErrMalformedPath, "Tree", "VirtualPath",
				"owner %q with modifier %s escapes above the root", name, mod)
		}
		stack = stack[:len(stack)-1]
		if mod == OneUpAndHide {
			return stack, nil
		}
		return applyName(stack, name)
	default:
		return applyName(stack, name)
	}
}

func joinPath(stack []string) string {
	return "/" + strings.Join(stack, "/")
}

// Join builds a slash-delimited path from segments, normalising duplicate slashes.
func Join(parts ...string) string {
	var segs []string
	for _, p := range parts {
		segs = append(segs, splitPath(p)...)
	}
	return joinPath(segs)
}
