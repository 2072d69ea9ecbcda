// Package contracts provides the core types shared by the interception engine.
//
// This package defines the vocabulary every other package speaks:
//   - Realm: a type-visibility namespace, with RootRealm for realm-less code
//   - TypeInfo / OperationInfo / Target: what can be intercepted
//   - Selector: which operations of a type a descriptor binds to
//   - Descriptor and Plugin: what plugins contribute
//   - Precondition: whether a descriptor may attach in a realm
//   - Backend: the external capability that splices entry points
//   - Diagnostic and DiagnosticSink: what the engine reports
//
// Descriptors are immutable once built:
//
//	d := contracts.NewDescriptor("shop.Cart", contracts.Method("Checkout", "context.Context"),
//		interceptor,
//		contracts.WithPrecondition(precondition.HasType("shop.Cart")),
//		contracts.WithDebug(true),
//	)
package contracts
