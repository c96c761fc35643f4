// Package pinmap resolves a component instance's chosen package to semantic
// pin identities.
package pinmap

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/component"
)

// UnresolvedError means the instance names a package the component does not
// declare. Every rule of that instance is unresolvable.
type UnresolvedError struct {
	Component string
	Package   string
	Available []string
}

func (e *UnresolvedError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("pinmap: %s instance has no package (available: %s)",
			e.Component, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("pinmap: %s has no package %q (available: %s)",
		e.Component, e.Package, strings.Join(e.Available, ", "))
}

// View is the two-way index between semantic pins and the physical pin ids
// of one package.
type View struct {
	Component string
	Package   string

	uidToPhysical map[component.PinUID][]string
	physicalToUID map[string]component.PinUID

	// Unmapped lists pins that carry rules, or are named by a rule, but have
	// no physical pin in this package, in lexicographic order.
	Unmapped []component.PinUID
}

// Resolve builds the view of model for the named package. A package name
// that differs only in case is accepted when it is unambiguous.
func Resolve(model *component.Model, pkgName string) (*View, error) {
	pkg, ok := model.Packages[pkgName]
	if !ok {
		pkg = foldLookup(model, pkgName)
	}
	if pkg == nil {
		return nil, &UnresolvedError{
			Component: model.ID,
			Package:   pkgName,
			Available: model.PackageNames(),
		}
	}

	v := &View{
		Component:     model.ID,
		Package:       pkg.Name,
		uidToPhysical: make(map[component.PinUID][]string, len(pkg.Pins)),
		physicalToUID: make(map[string]component.PinUID),
	}
	for uid, phys := range pkg.Pins {
		v.uidToPhysical[uid] = slices.Clone(phys)
		for _, p := range phys {
			v.physicalToUID[p] = uid
		}
	}
	referenced := make(map[component.PinUID]bool)
	for _, uid := range model.PinUIDs() {
		for _, r := range model.Pins[uid].Rules {
			referenced[uid] = true
			if r.Atom == nil {
				continue
			}
			for _, ref := range r.Atom.References() {
				if _, ok := model.Pin(ref); ok {
					referenced[ref] = true
				}
			}
		}
	}
	for uid := range referenced {
		if _, ok := v.uidToPhysical[uid]; !ok {
			v.Unmapped = append(v.Unmapped, uid)
		}
	}
	slices.Sort(v.Unmapped)
	return v, nil
}

func foldLookup(model *component.Model, name string) *component.Package {
	var found *component.Package
	for n, p := range model.Packages {
		if strings.EqualFold(n, name) {
			if found != nil {
				return nil
			}
			found = p
		}
	}
	return found
}

// Physical returns the physical pin ids of uid, in declaration order.
func (v *View) Physical(uid component.PinUID) ([]string, bool) {
	p, ok := v.uidToPhysical[uid]
	return p, ok
}

// UID returns the semantic pin behind a physical pin id.
func (v *View) UID(physical string) (component.PinUID, bool) {
	uid, ok := v.physicalToUID[physical]
	return uid, ok
}

// Mapped reports whether uid has at least one physical pin in the package.
func (v *View) Mapped(uid component.PinUID) bool {
	_, ok := v.uidToPhysical[uid]
	return ok
}

// UIDs returns the mapped semantic pins in lexicographic order.
func (v *View) UIDs() []component.PinUID {
	uids := make([]component.PinUID, 0, len(v.uidToPhysical))
	for uid := range v.uidToPhysical {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return uids
}

// Describe renders the physical pins of uid for diagnostics, e.g. "4,5".
func (v *View) Describe(uid component.PinUID) string {
	return strings.Join(v.uidToPhysical[uid], ",")
}
