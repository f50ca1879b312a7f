// Package manifest declares the fixed, versioned asset manifest that the
// installer precaches and the reaper uses to decide which cache groups are
// still valid. A manifest is an ordered list of named groups; each group owns
// a version tag and origin-relative resource paths. Bumping a version or
// renaming a group is the only supported way to roll assets forward, and both
// take effect atomically on the next install + activate cycle.
package manifest
