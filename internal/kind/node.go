package kind

import (
	"sort"
	"strings"
)

// Properties is an immutable set of string properties.
type Properties map[string]struct{}

// NewProperties builds a property set. Duplicates collapse.
func NewProperties(props ...string) Properties {
	p := make(Properties, len(props))
	for _, s := range props {
		p[s] = struct{}{}
	}
	return p
}

// Has reports whether the set contains prop.
func (p Properties) Has(prop string) bool {
	_, ok := p[prop]
	return ok
}

// Contains reports whether every property of other is in p.
func (p Properties) Contains(other Properties) bool {
	if len(other) > len(p) {
		return false
	}
	for s := range other {
		if _, ok := p[s]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the properties in lexical order.
func (p Properties) Sorted() []string {
	out := make([]string, 0, len(p))
	for s := range p {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// String renders the set as {a,b,c}.
func (p Properties) String() string {
	return "{" + strings.Join(p.Sorted(), ",") + "}"
}

// Kind is the capability shared by every node in the lattice.
type Kind interface {
	// Key is the node's Namespace key.
	Key() string

	// Properties is the node's property set.
	Properties() Properties

	// Signature is a structural key built from properties and ancestry.
	Signature() string
}

// IsA reports whether a satisfies b: b's properties are a subset of a's.
// Ancestry is not compared. IsA is reflexive.
func IsA(a, b Kind) bool {
	return a.Properties().Contains(b.Properties())
}

// node holds the fields common to Dependency and Endpoint.
type node struct {
	key   string
	props Properties
	sig   string
}

func newNode(ns *Namespace, props []string) node {
	return node{key: ns.NewKey(), props: NewProperties(props...)}
}

// Key returns the node's Namespace key.
func (n *node) Key() string { return n.key }

// Properties returns the node's property set. Callers must not mutate it.
func (n *node) Properties() Properties { return n.props }

// IsA reports whether the node satisfies other.
func (n *node) IsA(other Kind) bool {
	return n.props.Contains(other.Properties())
}

// signature renders "a,b,c" or "a,b,c:[parentsig,parentsig]" and caches it.
func (n *node) signature(parents func() []string) string {
	if n.sig != "" {
		return n.sig
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(n.props.Sorted(), ","))
	if ps := parents(); len(ps) > 0 {
		sort.Strings(ps)
		sb.WriteString(":[")
		sb.WriteString(strings.Join(ps, ","))
		sb.WriteString("]")
	}
	n.sig = sb.String()
	if n.sig == "" {
		// empty property set with no parents
		n.sig = "{}"
	}
	return n.sig
}

// Dependency is a Kind declared inside a Transform's requirement or product
// list.
type Dependency struct {
	node
	owner   *Transform
	parents []*Dependency
}

// LineageParents returns the sibling requirements this requirement must
// descend from.
func (d *Dependency) LineageParents() []*Dependency {
	return d.parents
}

// Transform returns the transform that declared d.
func (d *Dependency) Transform() *Transform {
	return d.owner
}

// Signature returns the cached structural signature.
func (d *Dependency) Signature() string {
	return d.signature(func() []string {
		out := make([]string, len(d.parents))
		for i, p := range d.parents {
			out[i] = p.Signature()
		}
		return out
	})
}

func (d *Dependency) String() string {
	return d.props.String()
}

// Ancestor pairs a real ancestor Endpoint with the Dependency prototype it
// satisfied when it was bound.
type Ancestor struct {
	Endpoint *Endpoint
	Proto    *Dependency
}

// Endpoint is a planning-time slot of data.
type Endpoint struct {
	node
	ancestry []Ancestor
	index    map[*Endpoint]int
}

// NewEndpoint creates an Endpoint with no ancestry, used for given data.
func NewEndpoint(ns *Namespace, props ...string) *Endpoint {
	return &Endpoint{node: newNode(ns, props)}
}

// Ancestry returns every real ancestor in assembly order. Callers must not
// mutate the slice.
func (e *Endpoint) Ancestry() []Ancestor {
	return e.ancestry
}

// HasAncestor reports whether a is a real ancestor of e.
func (e *Endpoint) HasAncestor(a *Endpoint) bool {
	_, ok := e.index[a]
	return ok
}

// ProtoOf returns the prototype an ancestor satisfied, or nil.
func (e *Endpoint) ProtoOf(a *Endpoint) *Dependency {
	i, ok := e.index[a]
	if !ok {
		return nil
	}
	return e.ancestry[i].Proto
}

// ClosestAncestor returns the most recently assembled ancestor of e that
// satisfies proto, or nil if none does.
func (e *Endpoint) ClosestAncestor(proto Kind) *Endpoint {
	for i := len(e.ancestry) - 1; i >= 0; i-- {
		if e.ancestry[i].Endpoint.IsA(proto) {
			return e.ancestry[i].Endpoint
		}
	}
	return nil
}

// SatisfiesLineage reports whether e has, for every lineage parent of req,
// some ancestor of that parent's kind.
func (e *Endpoint) SatisfiesLineage(req *Dependency) bool {
	for _, lp := range req.parents {
		if e.ClosestAncestor(lp) == nil {
			return false
		}
	}
	return true
}

// Signature returns the cached structural signature, including the
// signatures of every real ancestor.
func (e *Endpoint) Signature() string {
	return e.signature(func() []string {
		out := make([]string, len(e.ancestry))
		for i, a := range e.ancestry {
			out[i] = a.Endpoint.Signature()
		}
		return out
	})
}

func (e *Endpoint) String() string {
	return e.props.String() + "#" + e.key
}
