// Package replacement swaps rarely used codes for fresh input vectors.
//
// A Policy observes the code assignments of every forward pass. Once a window
// of observations is complete it reports Due, and Replace overwrites the dead
// codes of a Store. The quantizer applies replacements between forward passes,
// never between a forward pass and its backward pass.
package replacement
