package kind

import (
	"fmt"
	"strings"
)

// Transform is a named operation with ordered requirements and products.
//
// Requirements and products are appended during construction. Once the
// Transform has been handed to the resolver it must not change.
type Transform struct {
	ns       *Namespace
	key      string
	name     string
	requires []*Dependency
	produces []*Dependency
	reqIndex map[*Dependency]int
}

// NewTransform creates an empty transform in ns.
func NewTransform(ns *Namespace, name string) *Transform {
	return &Transform{
		ns:       ns,
		key:      ns.NewKey(),
		name:     name,
		reqIndex: make(map[*Dependency]int),
	}
}

// Key returns the transform's Namespace key.
func (t *Transform) Key() string { return t.key }

// Name returns the display name given at construction.
func (t *Transform) Name() string { return t.name }

// Namespace returns the namespace the transform allocates keys from.
func (t *Transform) Namespace() *Namespace { return t.ns }

// Requires returns the ordered requirements. Callers must not mutate it.
func (t *Transform) Requires() []*Dependency { return t.requires }

// Produces returns the ordered products. Callers must not mutate it.
func (t *Transform) Produces() []*Dependency { return t.produces }

// IndexOf returns the position of requirement d, or -1.
func (t *Transform) IndexOf(d *Dependency) int {
	i, ok := t.reqIndex[d]
	if !ok {
		return -1
	}
	return i
}

// AddRequirement appends a requirement with the given properties. Every
// lineage parent must already be a requirement of t.
func (t *Transform) AddRequirement(props []string, parents ...*Dependency) (*Dependency, error) {
	for _, p := range parents {
		if _, ok := t.reqIndex[p]; !ok {
			return nil, fmt.Errorf("%s: requirement %v: %w", t.name, props, ErrUnknownParent)
		}
	}
	d := &Dependency{node: newNode(t.ns, props), owner: t, parents: append([]*Dependency(nil), parents...)}
	t.reqIndex[d] = len(t.requires)
	t.requires = append(t.requires, d)
	return d, nil
}

// MustAddRequirement is AddRequirement that panics on error.
func (t *Transform) MustAddRequirement(props []string, parents ...*Dependency) *Dependency {
	d, err := t.AddRequirement(props, parents...)
	if err != nil {
		panic(err)
	}
	return d
}

// AddProduct appends a product with the given properties.
func (t *Transform) AddProduct(props ...string) *Dependency {
	d := &Dependency{node: newNode(t.ns, props), owner: t}
	t.produces = append(t.produces, d)
	return d
}

// String renders "name: {a} {b} -> {c}".
func (t *Transform) String() string {
	var sb strings.Builder
	sb.WriteString(t.name)
	sb.WriteString(":")
	for _, r := range t.requires {
		sb.WriteString(" ")
		sb.WriteString(r.String())
	}
	sb.WriteString(" ->")
	for _, p := range t.produces {
		sb.WriteString(" ")
		sb.WriteString(p.String())
	}
	return sb.String()
}

// Binding pairs an Endpoint with the Dependency it is bound to.
type Binding struct {
	Endpoint *Endpoint
	Proto    *Dependency
}

// Application is an immutable record of one use of a Transform.
type Application struct {
	Transform *Transform
	Used      []Binding
	Produced  []Binding
}

// Apply binds one Endpoint per requirement, in requirement order, and mints
// one Endpoint per product.
//
// Produced Endpoints inherit the ancestry of every bound Endpoint, followed
// by the bound Endpoints themselves. When an Endpoint appears more than once
// its most recent prototype wins but it keeps its first position.
func (t *Transform) Apply(inputs []*Endpoint) (*Application, error) {
	if len(inputs) != len(t.requires) {
		return nil, fmt.Errorf("%s: %d bindings for %d requirements: %w",
			t.name, len(inputs), len(t.requires), ErrBindingMismatch)
	}

	used := make([]Binding, len(inputs))
	for i, e := range inputs {
		req := t.requires[i]
		if !e.IsA(req) {
			return nil, fmt.Errorf("%s: %v does not satisfy %v: %w", t.name, e, req, ErrBindingMismatch)
		}
		for _, lp := range req.parents {
			bound := inputs[t.reqIndex[lp]]
			if e.ClosestAncestor(lp) != bound {
				return nil, fmt.Errorf("%s: %v does not descend from %v: %w", t.name, e, bound, ErrLineageViolation)
			}
		}
		used[i] = Binding{Endpoint: e, Proto: req}
	}

	var ancestry []Ancestor
	index := make(map[*Endpoint]int)
	put := func(a Ancestor) {
		if i, ok := index[a.Endpoint]; ok {
			ancestry[i].Proto = a.Proto
			return
		}
		index[a.Endpoint] = len(ancestry)
		ancestry = append(ancestry, a)
	}
	for _, b := range used {
		for _, a := range b.Endpoint.ancestry {
			put(a)
		}
	}
	for _, b := range used {
		put(Ancestor{Endpoint: b.Endpoint, Proto: b.Proto})
	}

	produced := make([]Binding, len(t.produces))
	for i, out := range t.produces {
		e := &Endpoint{
			node:     node{key: t.ns.NewKey(), props: out.props},
			ancestry: ancestry,
			index:    index,
		}
		produced[i] = Binding{Endpoint: e, Proto: out}
	}

	return &Application{Transform: t, Used: used, Produced: produced}, nil
}

// String renders "name(in,in) => out,out" using endpoint properties. The
// arrow is omitted for transforms with no products.
func (a *Application) String() string {
	in := make([]string, len(a.Used))
	for i, b := range a.Used {
		in[i] = b.Endpoint.props.String()
	}
	out := make([]string, len(a.Produced))
	for i, b := range a.Produced {
		out[i] = b.Endpoint.props.String()
	}
	if len(out) == 0 {
		return fmt.Sprintf("%s(%s)", a.Transform.name, strings.Join(in, ","))
	}
	return fmt.Sprintf("%s(%s) => %s", a.Transform.name, strings.Join(in, ","), strings.Join(out, ","))
}
