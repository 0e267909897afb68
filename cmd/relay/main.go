// Relay orchestrates recursive batches of worker CLI processes over a fixed
// pool of credentials and reports whether the parallelism actually happened.
package main

func main() {
	Execute()
}
