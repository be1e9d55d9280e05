// Package kind implements the property-set lattice the planner searches over.
//
// A Kind is a set of string properties. Data is matched by subset inclusion
// rather than by exact type: an Endpoint with properties {contigs, assembly,
// genomic} satisfies a requirement declared as {genomic}.
//
// Three node flavours share that capability:
//
//   - Dependency: a Kind declared inside a Transform's requirement or product
//     list. Requirements may name earlier sibling requirements as lineage
//     parents ("this input must descend from whatever was bound there").
//   - Endpoint: a planning-time slot of data. It remembers every real
//     ancestor Endpoint together with the Dependency prototype that ancestor
//     satisfied, in the order the ancestry was assembled.
//   - Transform: an operation with ordered requirements and products.
//     Apply binds Endpoints to requirements and mints produced Endpoints.
//
// IsA compares properties only. Ancestry is never part of IsA; lineage is
// enforced separately through Dependency lineage parents and the resolver's
// lineage requirements.
//
// All keys come from an explicit Namespace value. There is no package-level
// registry, so unrelated resolutions never share state.
//
// Nodes are immutable once constructed and are not safe for concurrent
// mutation; the resolver that builds them is single-threaded.
package kind
