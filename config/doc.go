// Package config reads allocator settings from a YAML configuration tree.
//
// Fields are addressed by dotted path ("pools.small.frame_bytes"). Ints
// accepts either a single integer or a non-empty array of integers, so a
// setting can grow from one value to a list without a schema change:
//
//	frame_bytes: 256
//	frame_bytes: [64, 256, 4096]
package config
