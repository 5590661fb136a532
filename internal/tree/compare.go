package tree

import "bytes"

func compareRaw(a, b []byte) int { return bytes.Compare(a, b) }
