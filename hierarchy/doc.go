// Package hierarchy holds the ownership tree of an application: owners (modules and
// groups) containing endpoints and sub-owners.
//
// Owners and endpoints live in an arena addressed by OwnerID and EndpointID handles. A
// child stores its parent handle and a parent stores its child handles, so an owner
// registered twice is detected structurally.
//
// The public view differs from the real tree. Owner names may carry path syntax ("/X"
// moves to the root, "../X" one level up, ".." merges into the grandparent) or an
// explicit Modifier. View, ExtractTag and ExcludeTag build read-only VirtualNode trees
// from the current state without modifying it. A name escaping above the root fails with
// errors.ErrMalformedPath.
package hierarchy
