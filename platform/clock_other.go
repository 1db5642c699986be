//go:build !linux

package platform

func monotonicNanoseconds() uint64 {
	return fallbackNanoseconds()
}
