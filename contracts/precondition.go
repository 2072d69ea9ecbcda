package contracts

// TypeResolver answers whether a type name resolves inside a realm.
type TypeResolver interface {
	Resolve(realm Realm, typeName string) (TypeInfo, bool)
}

// PreconditionInput is everything a precondition may look at.
type PreconditionInput struct {
	// Provider names the plugin the descriptor came from.
	Provider string
	// Realm is where the candidate type was loaded.
	Realm Realm
	// Candidate is the type the interceptor would attach to.
	Candidate TypeInfo
	// Resolver looks up other types in Realm.
	Resolver TypeResolver
	// Debug asks leaf predicates to explain failures through Sink.
	Debug bool
	// Sink receives precondition diagnostics. May be nil.
	Sink DiagnosticSink
}

// Precondition decides whether an interceptor may attach in a realm.
// Implementations must be side-effect-free apart from diagnostics and cheap
// to evaluate repeatedly.
type Precondition interface {
	CanInstall(in PreconditionInput) bool
	String() string
}
