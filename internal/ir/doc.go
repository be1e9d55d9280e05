// Package ir provides the canonical encoding used for content-derived
// identity in pipewright.
//
// This package imports nothing internal. Values are restricted to the JSON
// subset that has a single canonical form:
//   - strings (NFC normalized), integers, booleans
//   - arrays and string-keyed objects of the above
//
// Floats and null are rejected. Object keys are ordered by UTF-16 code
// units, as RFC 8785 requires.
package ir
