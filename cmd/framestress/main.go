// Command framestress hammers a frame allocator from many goroutines and
// checks that no frame is ever handed out twice.
package main

func main() {
	execute()
}
