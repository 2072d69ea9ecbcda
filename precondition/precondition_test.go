package precondition

import (
	"testing"

	"github.com/glimte/mmate-instrument/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// realmTypes is a resolver over fixed per-realm type sets.
type realmTypes map[contracts.Realm][]string

func (r realmTypes) Resolve(realm contracts.Realm, typeName string) (contracts.TypeInfo, bool) {
	for _, name := range r[realm.Normalize()] {
		if name == typeName {
			return contracts.TypeInfo{Name: name, Realm: realm}, true
		}
	}
	return contracts.TypeInfo{}, false
}

type recordingSink struct {
	diagnostics []contracts.Diagnostic
}

func (s *recordingSink) Emit(d contracts.Diagnostic) {
	s.diagnostics = append(s.diagnostics, d)
}

func input(resolver contracts.TypeResolver, realm contracts.Realm) contracts.PreconditionInput {
	return contracts.PreconditionInput{
		Provider:  "jdbc",
		Realm:     realm,
		Candidate: contracts.TypeInfo{Name: "db.Conn"},
		Resolver:  resolver,
	}
}

func TestHasType(t *testing.T) {
	types := realmTypes{"app": {"db.Conn"}}

	t.Run("succeeds when the type resolves", func(t *testing.T) {
		assert.True(t, HasType("db.Conn").CanInstall(input(types, "app")))
	})

	t.Run("fails when the type is missing", func(t *testing.T) {
		assert.False(t, HasType("db.Pool").CanInstall(input(types, "app")))
	})

	t.Run("fails without a resolver", func(t *testing.T) {
		assert.False(t, HasType("db.Conn").CanInstall(input(nil, "app")))
	})

	t.Run("debug failure emits a diagnostic naming the missing type", func(t *testing.T) {
		sink := &recordingSink{}
		in := input(types, "app")
		in.Debug = true
		in.Sink = sink

		ok := HasType("db.Pool").CanInstall(in)

		assert.False(t, ok)
		require.Len(t, sink.diagnostics, 1)
		d := sink.diagnostics[0]
		assert.Equal(t, contracts.DiagnosticPreconditionFailed, d.Kind)
		assert.Equal(t, "db.Pool", d.MissingType)
		assert.Equal(t, "db.Conn", d.TargetType)
		assert.Equal(t, "jdbc", d.Provider)
		assert.Equal(t, contracts.Realm("app"), d.Realm)
	})

	t.Run("non-debug failure is silent", func(t *testing.T) {
		sink := &recordingSink{}
		in := input(types, "app")
		in.Sink = sink

		HasType("db.Pool").CanInstall(in)

		assert.Empty(t, sink.diagnostics)
	})
}

func TestOr(t *testing.T) {
	pre := Or(HasType("A"), HasType("B"))

	cases := []struct {
		name  string
		types []string
		want  bool
	}{
		{"neither", nil, false},
		{"only A", []string{"A"}, true},
		{"only B", []string{"B"}, true},
		{"both", []string{"A", "B"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			types := realmTypes{"app": tc.types}
			assert.Equal(t, tc.want, pre.CanInstall(input(types, "app")))
		})
	}

	t.Run("realms are evaluated independently", func(t *testing.T) {
		types := realmTypes{"r1": nil, "r2": {"B"}}

		assert.False(t, pre.CanInstall(input(types, "r1")))
		assert.True(t, pre.CanInstall(input(types, "r2")))
		assert.False(t, pre.CanInstall(input(types, "r1")))
	})

	t.Run("short-circuits on the first satisfied branch", func(t *testing.T) {
		calls := 0
		counting := Func("counting", func(contracts.PreconditionInput) bool {
			calls++
			return false
		})

		ok := Or(Always(), counting).CanInstall(input(realmTypes{}, "app"))

		assert.True(t, ok)
		assert.Equal(t, 0, calls)
	})

	t.Run("satisfied group emits no diagnostics", func(t *testing.T) {
		sink := &recordingSink{}
		in := input(realmTypes{"app": {"B"}}, "app")
		in.Debug = true
		in.Sink = sink

		assert.True(t, pre.CanInstall(in))
		assert.Empty(t, sink.diagnostics)
	})

	t.Run("failed group explains every branch", func(t *testing.T) {
		sink := &recordingSink{}
		in := input(realmTypes{}, "app")
		in.Debug = true
		in.Sink = sink

		assert.False(t, pre.CanInstall(in))
		require.Len(t, sink.diagnostics, 2)
		assert.Equal(t, "A", sink.diagnostics[0].MissingType)
		assert.Equal(t, "B", sink.diagnostics[1].MissingType)
	})

	t.Run("empty Or fails", func(t *testing.T) {
		assert.False(t, Or().CanInstall(input(realmTypes{}, "app")))
	})
}

func TestAndNot(t *testing.T) {
	types := realmTypes{"app": {"A"}}

	assert.True(t, And(HasType("A"), Always()).CanInstall(input(types, "app")))
	assert.False(t, And(HasType("A"), HasType("B")).CanInstall(input(types, "app")))
	assert.True(t, And().CanInstall(input(types, "app")))
	assert.True(t, Not(HasType("B")).CanInstall(input(types, "app")))
	assert.False(t, Not(HasType("A")).CanInstall(input(types, "app")))

	t.Run("Not suppresses inner diagnostics", func(t *testing.T) {
		sink := &recordingSink{}
		in := input(types, "app")
		in.Debug = true
		in.Sink = sink

		Not(HasType("B")).CanInstall(in)

		assert.Empty(t, sink.diagnostics)
	})
}

func TestString(t *testing.T) {
	pre := Or(HasType("A"), And(HasType("B"), Not(Never())))
	assert.Equal(t, "or(hasType(A), and(hasType(B), not(never)))", pre.String())
}

func TestEvaluator(t *testing.T) {
	types := realmTypes{"app": {"db.Conn"}}
	candidate := contracts.TypeInfo{Name: "db.Conn", Realm: "app"}
	interceptor := namedInterceptor("counter")

	t.Run("nil precondition always installs", func(t *testing.T) {
		e := NewEvaluator(types)
		d := contracts.NewDescriptor("db.Conn", contracts.MethodsNamed("Query"), interceptor)

		assert.True(t, e.CanInstall("jdbc", d, "app", candidate))
	})

	t.Run("debug descriptor forwards diagnostics with descriptor identity", func(t *testing.T) {
		sink := &recordingSink{}
		e := NewEvaluator(types, WithSink(sink))
		d := contracts.NewDescriptor("db.Conn", contracts.MethodsNamed("Query"), interceptor,
			contracts.WithPrecondition(HasType("db.Pool")),
			contracts.WithDebug(true),
		)

		ok := e.CanInstall("jdbc", d, "app", candidate)

		assert.False(t, ok)
		require.Len(t, sink.diagnostics, 1)
		assert.Equal(t, d.Key(), sink.diagnostics[0].Descriptor)
		assert.Equal(t, "jdbc", sink.diagnostics[0].Provider)
	})

	t.Run("non-debug descriptor stays quiet", func(t *testing.T) {
		sink := &recordingSink{}
		e := NewEvaluator(types, WithSink(sink))
		d := contracts.NewDescriptor("db.Conn", contracts.MethodsNamed("Query"), interceptor,
			contracts.WithPrecondition(HasType("db.Pool")),
		)

		assert.False(t, e.CanInstall("jdbc", d, "app", candidate))
		assert.Empty(t, sink.diagnostics)
	})

	t.Run("reported diagnostics are forwarded once", func(t *testing.T) {
		sink := &recordingSink{}
		e := NewEvaluator(types, WithSink(sink))
		seen := map[string]bool{}
		req := Request{
			Provider:   "jdbc",
			Descriptor: "db.Conn.Query(*)@counter",
			Realm:      "app",
			Candidate:  candidate,
			Debug:      true,
			Reported: func(key string) bool {
				if seen[key] {
					return true
				}
				seen[key] = true
				return false
			},
		}

		for i := 0; i < 3; i++ {
			assert.False(t, e.Evaluate(HasType("db.Pool"), req))
		}
		assert.False(t, e.Evaluate(HasType("db.Tx"), req))

		require.Len(t, sink.diagnostics, 2)
		assert.Equal(t, "db.Pool", sink.diagnostics[0].MissingType)
		assert.Equal(t, "db.Tx", sink.diagnostics[1].MissingType)
	})

	t.Run("plugin precondition", func(t *testing.T) {
		e := NewEvaluator(types)
		allowed := contracts.Plugin{Name: "jdbc", Precondition: HasType("db.Conn")}
		denied := contracts.Plugin{Name: "redis", Precondition: HasType("redis.Client")}

		assert.True(t, e.PluginAllowed(allowed, "app", candidate, false))
		assert.False(t, e.PluginAllowed(denied, "app", candidate, false))
		assert.True(t, e.PluginAllowed(contracts.Plugin{Name: "open"}, "app", candidate, false))
	})
}

type namedInterceptor string

func (n namedInterceptor) Name() string { return string(n) }
