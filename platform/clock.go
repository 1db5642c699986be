package platform

import "time"

var processStart = time.Now()

func fallbackNanoseconds() uint64 {
	return uint64(time.Since(processStart))
}
