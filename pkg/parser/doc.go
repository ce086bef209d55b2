// Package parser turns tool output into structured values.
//
// Output formats differ between tool versions, so every function here
// degrades instead of failing hard: text parsers return empty values when
// nothing matches, and JSON parsers return ErrMalformedOutput rather than
// a raw decode error. No function panics on any input.
package parser
