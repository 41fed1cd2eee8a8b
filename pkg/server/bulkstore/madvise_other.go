//go:build !linux

package bulkstore

// adviseDontNeed is a no-op off Linux; the platforms the store targets
// (see pkg/server/arena's memfd use) are Linux-only anyway.
func adviseDontNeed(data []byte) {}
