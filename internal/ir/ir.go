// Package ir defines the SSA graph the builder produces: values,
// instructions and blocks owned by a Unit, the type lattice they are typed
// with, and the graph utilities later stages rely on (dominators, type
// reflow, the structural checker and the printer).
//
// The IR is not thread-safe. A Unit and everything in it belongs to one
// compilation at a time.
package ir
