package precondition

import (
	"fmt"
	"strings"

	"github.com/glimte/mmate-instrument/contracts"
)

// HasType succeeds iff typeName resolves in the evaluated realm.
func HasType(typeName string) contracts.Precondition {
	return hasType{typeName: typeName}
}

type hasType struct {
	typeName string
}

func (p hasType) CanInstall(in contracts.PreconditionInput) bool {
	if in.Resolver != nil {
		if _, ok := in.Resolver.Resolve(in.Realm, p.typeName); ok {
			return true
		}
	}
	if in.Debug && in.Sink != nil {
		d := contracts.NewDiagnostic(contracts.DiagnosticPreconditionFailed,
			fmt.Sprintf("required type %s not found for %s", p.typeName, in.Candidate.Name))
		d.Stage = contracts.StageInstall
		d.Provider = in.Provider
		d.Realm = in.Realm.Normalize()
		d.TargetType = in.Candidate.Name
		d.MissingType = p.typeName
		in.Sink.Emit(d)
	}
	return false
}

func (p hasType) String() string {
	return "hasType(" + p.typeName + ")"
}

// Or succeeds on the first satisfied branch. An empty Or never succeeds.
func Or(preconditions ...contracts.Precondition) contracts.Precondition {
	return or{branches: preconditions}
}

type or struct {
	branches []contracts.Precondition
}

func (p or) CanInstall(in contracts.PreconditionInput) bool {
	quiet := in
	quiet.Debug = false
	for _, b := range p.branches {
		if b != nil && b.CanInstall(quiet) {
			return true
		}
	}
	// Only a failed group is worth explaining; replay it with diagnostics on.
	if in.Debug {
		for _, b := range p.branches {
			if b != nil {
				b.CanInstall(in)
			}
		}
	}
	return false
}

func (p or) String() string {
	return "or(" + join(p.branches) + ")"
}

// And succeeds when every branch succeeds, stopping at the first failure.
// An empty And always succeeds.
func And(preconditions ...contracts.Precondition) contracts.Precondition {
	return and{branches: preconditions}
}

type and struct {
	branches []contracts.Precondition
}

func (p and) CanInstall(in contracts.PreconditionInput) bool {
	for _, b := range p.branches {
		if b != nil && !b.CanInstall(in) {
			return false
		}
	}
	return true
}

func (p and) String() string {
	return "and(" + join(p.branches) + ")"
}

// Not inverts p. Diagnostics from p are suppressed since its failure is the
// success of Not.
func Not(p contracts.Precondition) contracts.Precondition {
	return not{inner: p}
}

type not struct {
	inner contracts.Precondition
}

func (p not) CanInstall(in contracts.PreconditionInput) bool {
	in.Debug = false
	return p.inner == nil || !p.inner.CanInstall(in)
}

func (p not) String() string {
	return "not(" + describe(p.inner) + ")"
}

// Func adapts a plain predicate
func Func(name string, fn func(in contracts.PreconditionInput) bool) contracts.Precondition {
	return funcPrecondition{name: name, fn: fn}
}

type funcPrecondition struct {
	name string
	fn   func(in contracts.PreconditionInput) bool
}

func (p funcPrecondition) CanInstall(in contracts.PreconditionInput) bool {
	return p.fn(in)
}

func (p funcPrecondition) String() string {
	return p.name
}

// Always succeeds
func Always() contracts.Precondition {
	return Func("always", func(contracts.PreconditionInput) bool { return true })
}

// Never fails
func Never() contracts.Precondition {
	return Func("never", func(contracts.PreconditionInput) bool { return false })
}

func join(ps []contracts.Precondition) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, describe(p))
	}
	return strings.Join(parts, ", ")
}

func describe(p contracts.Precondition) string {
	if p == nil {
		return "<nil>"
	}
	return p.String()
}
