// Package stress drives an allocator from many goroutines and checks that no
// frame is ever handed to two holders at once.
//
// Every worker repeatedly allocates up to Hold frames, stamps each one with a
// unique value, verifies the stamps and frees the frames again. Frame numbers
// held at any instant are recorded in a roaring bitmap; allocating a number
// that is already in the set is reported as ErrDuplicateFrame.
package stress
