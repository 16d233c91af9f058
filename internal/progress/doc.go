// Package progress provides orchestrator progress sinks.
//
// Every sink returned here is safe to call from the engine goroutine: none
// of them blocks on a slow consumer. Combine several with FanOut.
package progress
