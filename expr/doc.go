// Package expr parses and evaluates the DynamoDB expression subset the
// emulator understands: key conditions, filters, condition expressions,
// projections and SET/REMOVE update expressions.
//
// Conditions are conjunctions only. OR, NOT, IN, size() and nested document
// paths are rejected with an *Error, which callers report as a
// ValidationException.
package expr
