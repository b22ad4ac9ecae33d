// Package box implements the N-dimensional box algebra and the strided byte
// copy that moves array data between differently shaped boxes once the bytes
// are local.
//
// # Boxes
//
// A Box is a per-axis start and count. Boxes of equal rank intersect axis by
// axis:
//
//	interStart[i] = max(aStart[i], bStart[i])
//	interEnd[i]   = min(aStart[i]+aCount[i], bStart[i]+bCount[i])
//
// and the overlap is empty when any axis has interEnd <= interStart.
//
// # Major order
//
// Row-major buffers vary their last axis fastest, column-major buffers their
// first. A column-major view of a region lists the same axes in reverse, so
// converting between conventions is a reversal of the axis lists and never a
// transposition of data.
//
// # Copy
//
// Copy and CopyBox copy the overlap of two boxes:
//
//	┌────────── src memory ──────────┐
//	│   ┌──── src box ─────┐         │
//	│   │     ┌──────┬─────┼───┐     │
//	│   │     │ copy │     │   │     │
//	│   └─────┼──────┘     │   │     │
//	└─────────┼── dst box ─────┘─────┘
//
// One-dimensional overlaps are a single contiguous run. Higher ranks walk the
// slow axes with an odometer and copy one run per coordinate; fast axes that
// span both memory boxes completely are folded into the run so dense copies
// collapse to a handful of memmoves. Byte swapping, when requested, happens
// inside the same pass.
//
// Runs exposes the same traversal without copying, listing the contiguous
// stretches of a sub-box inside a dense array. The overlap resolver uses it to
// turn an intersection into remote byte ranges.
package box
