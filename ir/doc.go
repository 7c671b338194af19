// Package ir defines the swarm-ir data model: interned structural types,
// modules, functions built from identified instruction blocks, globals,
// static memory, and the metadata channel that passes attach analysis
// results to.
//
// A Module owns everything transitively. References between nodes are ids
// (block ids, static-memory handles) or names (functions, globals); there
// are no back-pointers in the data model itself. Passes traverse modules
// through DoPass/DoMutPass and either reject a module or enrich it with
// metadata.
package ir
