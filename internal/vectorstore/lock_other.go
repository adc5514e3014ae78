//go:build !unix

package vectorstore

// processAlive cannot check other processes here; locks with a PID are honoured
// until removed by hand.
func processAlive(int) bool { return true }
