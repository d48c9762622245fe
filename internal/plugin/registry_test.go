package plugin

import (
	"testing"

	"github.com/goccy/go-yaml"
)

type stubPlugin struct{ Base }

func stubCtor(yaml.RawMessage) (Plugin, error) { return &stubPlugin{}, nil }

func TestRegistryLookupAndNames(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", stubCtor)

	ctor, ok := r.Lookup("stub")
	if !ok {
		t.Fatal("expected stub to be registered")
	}
	pl, err := ctor(nil)
	if err != nil || pl == nil {
		t.Fatalf("unexpected ctor result: %v, %v", pl, err)
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected missing plugin to be absent")
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "stub" {
		t.Fatalf("expected [stub], got %v", names)
	}
}

func TestRegistryPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", stubCtor)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("stub", stubCtor)
}

func TestParseConfig(t *testing.T) {
	type cfg struct {
		Name string `yaml:"name"`
	}
	raw, err := yaml.Marshal(cfg{Name: "widget"})
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseConfig[cfg](raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if parsed.Name != "widget" {
		t.Fatalf("expected widget, got %q", parsed.Name)
	}
}

func TestBaseHooksAreNoOps(t *testing.T) {
	var b Base
	sess := (Session)(nil)
	result, err := b.RequestFilter(sess, NewCtx())
	if err != nil || result != Continue {
		t.Fatalf("expected Continue/nil, got %v/%v", result, err)
	}
	if err := b.RequestBodyFilter(sess, nil, true, NewCtx()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.UpstreamRequestFilter(sess, nil, NewCtx()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.ResponseFilter(sess, nil, NewCtx()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := b.ResponseBodyFilter(sess, []byte("x"), true, NewCtx())
	if err != nil || string(out) != "x" {
		t.Fatalf("expected passthrough, got %q/%v", out, err)
	}
}
