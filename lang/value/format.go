// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import "strconv"

// int64ToString, uint64ToString and float64ToString mirror the original's
// longToString/doubleToString helpers (libwdiv/src/utils.cpp): canonical,
// locale-independent numeric formatting used by PRINT and string
// concatenation.
func int64ToString(i int64) string    { return strconv.FormatInt(i, 10) }
func uint64ToString(u uint64) string  { return strconv.FormatUint(u, 10) }
func float64ToString(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
