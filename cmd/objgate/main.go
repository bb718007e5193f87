// Command objgate serves the object storage gateway and runs maintenance
// tasks against the configured backend.
package main

func main() {
	Execute()
}
