// Package codeanalysis extracts variable and import names from notebook
// cell source.
//
// The extraction is a line-oriented heuristic built on regular expressions,
// not a parser. It is good enough to tell the verifier which globals a step
// should have created and to give the reasoning service a list of imports
// already in scope. Consumers depend on the Analyzer interface so a real
// parser can replace the heuristic without touching callers.
//
// # What is recognised
//
//   - plain and tuple assignments at any block level outside def/class bodies
//     (x = 1, a, b = f(), total: int = 0)
//   - def and class names
//   - for loop targets
//   - with ... as targets
//   - import a, import a.b as c, from a import b
//
// Augmented assignments (x += 1) are ignored: they never create a name.
package codeanalysis
