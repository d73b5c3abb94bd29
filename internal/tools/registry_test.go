package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

type stubTool struct {
	name    string
	schema  json.RawMessage
	execute func(ctx context.Context, params json.RawMessage) (*Result, error)
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Description() string      { return "stub " + s.name }
func (s *stubTool) Schema() json.RawMessage  { return s.schema }
func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	if s.execute != nil {
		return s.execute(ctx, params)
	}
	return &Result{Content: "ok"}, nil
}

func stubSpec(name string, sets, tags []string) Spec {
	return Spec{
		Name: name,
		Sets: sets,
		Tags: tags,
		New:  func() (Tool, error) { return &stubTool{name: name}, nil },
	}
}

func TestGetInstantiatesLazilyOnce(t *testing.T) {
	built := 0
	r := NewRegistry(observability.NewNopLogger())
	r.Register(Spec{
		Name: "lazy",
		New: func() (Tool, error) {
			built++
			return &stubTool{name: "lazy"}, nil
		},
	})

	if built != 0 {
		t.Fatalf("constructor ran at registration, built = %d", built)
	}
	if r.Get("lazy") == nil {
		t.Fatal("Get(lazy) = nil")
	}
	r.Get("lazy")
	if built != 1 {
		t.Errorf("constructor ran %d times, want 1", built)
	}
}

func TestGetMissingToolYieldsNil(t *testing.T) {
	r := NewRegistry(observability.NewNopLogger())
	if got := r.Get("nope"); got != nil {
		t.Errorf("Get(nope) = %v, want nil", got)
	}
}

func TestBrokenConstructorOmitsTool(t *testing.T) {
	r := NewRegistry(observability.NewNopLogger())
	r.Register(Spec{
		Name: "broken",
		Sets: []string{"s"},
		New:  func() (Tool, error) { return nil, errors.New("boom") },
	})
	if got := r.Get("broken"); got != nil {
		t.Errorf("Get(broken) = %v, want nil", got)
	}
	view := r.Filter(models.ToolFilters{ToolSets: []string{"s"}})
	if len(view) != 0 {
		t.Errorf("Filter included broken tool, got %d tools", len(view))
	}
}

func TestDuplicateRegistrationKeepsFirst(t *testing.T) {
	r := NewRegistry(observability.NewNopLogger())
	r.Register(Spec{Name: "t", New: func() (Tool, error) { return &stubTool{name: "first"}, nil }})
	r.Register(Spec{Name: "t", New: func() (Tool, error) { return &stubTool{name: "second"}, nil }})
	if got := r.Get("t").Name(); got != "first" {
		t.Errorf("Get(t).Name() = %q, want first", got)
	}
}

func TestFilterAlgebra(t *testing.T) {
	r := NewRegistry(observability.NewNopLogger())
	r.RegisterAll([]Spec{
		stubSpec("alpha", []string{"mail"}, nil),
		stubSpec("beta", []string{"mail"}, []string{"comm"}),
		stubSpec("gamma", []string{"files"}, nil),
		stubSpec("delta", nil, []string{"comm"}),
		stubSpec("extra", nil, nil),
	})

	view := r.Filter(models.ToolFilters{
		ToolSets: []string{"mail"},
		Tags:     []string{"comm"},
		Allow:    []string{"extra"},
		Deny:     []string{"beta"},
	})

	got := make([]string, len(view))
	for i, tool := range view {
		got[i] = tool.Name()
	}
	want := []string{"alpha", "delta", "extra"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter() = %v, want %v", got, want)
	}
}

// Property: the view equals (sets ∪ tags ∪ allow) \ deny, sorted, for
// arbitrary filter combinations over a fixed catalog.
func TestFilterAlgebraProperty(t *testing.T) {
	catalog := []Spec{
		stubSpec("a", []string{"s1"}, []string{"t1"}),
		stubSpec("b", []string{"s1", "s2"}, nil),
		stubSpec("c", []string{"s2"}, []string{"t2"}),
		stubSpec("d", nil, []string{"t1", "t2"}),
		stubSpec("e", nil, nil),
	}
	r := NewRegistry(observability.NewNopLogger())
	r.RegisterAll(catalog)

	names := []string{"a", "b", "c", "d", "e"}
	subset := gen.SliceOf(gen.OneConstOf("a", "b", "c", "d", "e"))
	setsGen := gen.SliceOf(gen.OneConstOf("s1", "s2"))
	tagsGen := gen.SliceOf(gen.OneConstOf("t1", "t2"))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("view = (sets ∪ tags ∪ allow) \\ deny, sorted", prop.ForAll(
		func(sets, tags, allow, deny []string) bool {
			view := r.Filter(models.ToolFilters{ToolSets: sets, Tags: tags, Allow: allow, Deny: deny})

			expected := make(map[string]bool)
			for _, spec := range catalog {
				if anyIntersects(spec.Sets, sets) || anyIntersects(spec.Tags, tags) {
					expected[spec.Name] = true
				}
			}
			for _, n := range allow {
				expected[n] = true
			}
			for _, n := range deny {
				delete(expected, n)
			}

			wantNames := make([]string, 0, len(expected))
			for _, n := range names {
				if expected[n] {
					wantNames = append(wantNames, n)
				}
			}
			sort.Strings(wantNames)

			gotNames := make([]string, len(view))
			for i, tool := range view {
				gotNames[i] = tool.Name()
			}
			return reflect.DeepEqual(gotNames, wantNames)
		},
		setsGen,
		tagsGen,
		subset,
		subset,
	))

	properties.TestingRun(t)
}

func TestDescribeForModel(t *testing.T) {
	r := NewRegistry(observability.NewNopLogger())
	r.Register(stubSpec("zed", []string{"s"}, nil))
	view := r.Filter(models.ToolFilters{ToolSets: []string{"s"}})

	out := DescribeForModel(view)
	if out == "" {
		t.Fatal("DescribeForModel returned empty fragment")
	}
	if want := "### zed"; !contains(out, want) {
		t.Errorf("DescribeForModel missing %q:\n%s", want, out)
	}
	if DescribeForModel(nil) != "" {
		t.Error("DescribeForModel(nil) should be empty")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
