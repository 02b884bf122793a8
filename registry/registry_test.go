package registry

import (
	"context"
	"testing"

	"github.com/edgerpc/edgerpc"
)

func noop(context.Context, *edgerpc.Request) (interface{}, error) { return nil, nil }

func TestDuplicateRegistrationFails(t *testing.T) {
	r := New()
	d := &Descriptor{Name: "a.b.c", Handler: edgerpc.HandlerFunc(noop)}
	if err := r.Register(d); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(d); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestEmptyNameRejected(t *testing.T) {
	r := New()
	if err := r.Register(&Descriptor{Handler: edgerpc.HandlerFunc(noop)}); err == nil {
		t.Fatal("expected error for empty method name")
	}
}

func TestWildcardResolution(t *testing.T) {
	r := New()
	must(t, r.Register(&Descriptor{Name: "a.b.*", Handler: edgerpc.HandlerFunc(noop)}))

	if _, ok := r.Lookup("a.b.c.d"); !ok {
		t.Error("a.b.c.d should resolve via a.b.*")
	}
	if _, ok := r.Lookup("a.b.c"); !ok {
		t.Error("a.b.c should resolve via a.b.*")
	}
	if _, ok := r.Lookup("a.c"); ok {
		t.Error("a.c should not resolve: no matching wildcard")
	}
}

func TestExactMatchBeatsWildcard(t *testing.T) {
	r := New()
	wild := &Descriptor{Name: "a.b.*", Handler: edgerpc.HandlerFunc(noop)}
	exact := &Descriptor{Name: "a.b.c", Handler: edgerpc.HandlerFunc(noop)}
	must(t, r.Register(wild))
	must(t, r.Register(exact))

	got, ok := r.Lookup("a.b.c")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != exact {
		t.Error("exact match should win over wildcard")
	}
}

func TestLongerPrefixWins(t *testing.T) {
	r := New()
	shallow := &Descriptor{Name: "a.*", Handler: edgerpc.HandlerFunc(noop)}
	deep := &Descriptor{Name: "a.b.*", Handler: edgerpc.HandlerFunc(noop)}
	must(t, r.Register(shallow))
	must(t, r.Register(deep))

	got, ok := r.Lookup("a.b.c")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != deep {
		t.Error("longer-prefix wildcard a.b.* should win over a.*")
	}
}

func TestListAndNamespaces(t *testing.T) {
	r := New()
	must(t, r.Register(&Descriptor{Name: "rpc.users.list", Handler: edgerpc.HandlerFunc(noop)}))
	must(t, r.Register(&Descriptor{Name: "rpc.users.get", Handler: edgerpc.HandlerFunc(noop)}))
	must(t, r.Register(&Descriptor{Name: "rpc.posts.list", Handler: edgerpc.HandlerFunc(noop)}))

	if got := r.List("users"); len(got) != 2 {
		t.Errorf("List(users) = %v, want 2 entries", got)
	}
	if got := r.List(""); len(got) != 3 {
		t.Errorf("List('') = %v, want 3 entries", got)
	}
	byNS := r.ListByNamespace()
	if len(byNS["users"]) != 2 || len(byNS["posts"]) != 1 {
		t.Errorf("ListByNamespace = %+v", byNS)
	}
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}
}

func TestUnregister(t *testing.T) {
	r := New()
	must(t, r.Register(&Descriptor{Name: "a.b.c", Handler: edgerpc.HandlerFunc(noop)}))
	r.Unregister("a.b.c")
	if r.Exists("a.b.c") {
		t.Error("expected a.b.c to be gone after Unregister")
	}
	if got := r.List("b"); len(got) != 0 {
		t.Errorf("List(b) after unregister = %v, want empty", got)
	}
}

func TestMiddlewareSnapshotIsolation(t *testing.T) {
	r := New()
	mw := func(ctx context.Context, req *edgerpc.Request, ec *edgerpc.ExecContext, next edgerpc.Next) (interface{}, error) {
		return next(ctx, req)
	}
	r.AppendMiddleware(mw)
	snap := r.SnapshotMiddleware()
	r.AppendMiddleware(mw)
	if len(snap) != 1 {
		t.Errorf("snapshot should be unaffected by later appends, got %d entries", len(snap))
	}
	if len(r.SnapshotMiddleware()) != 2 {
		t.Error("registry middleware should now have 2 entries")
	}
}

func TestRegisterFuncAdaptsOrdinaryFunction(t *testing.T) {
	r := New()
	type greetParams struct {
		Name string `json:"name"`
	}
	greet := func(_ context.Context, p *greetParams) (string, error) {
		return "hello, " + p.Name, nil
	}
	must(t, r.RegisterFunc("greet", greet, "greets the caller by name",
		ParamSpec{Name: "name", Type: "string", Required: true}))

	desc, ok := r.Lookup("greet")
	if !ok {
		t.Fatal("expected greet to resolve")
	}
	req, err := edgerpc.DecodeRequest(`{"id":"1","method":"greet","params":{"name":"ada"}}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := desc.Handler.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got != "hello, ada" {
		t.Errorf("got %q, want %q", got, "hello, ada")
	}
}

func TestRegisterFuncRejectsBadSignature(t *testing.T) {
	r := New()
	defer func() {
		if recover() == nil {
			t.Fatal("expected RegisterFunc to panic on an unsupported signature")
		}
	}()
	r.RegisterFunc("bad", func() {}, "")
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
