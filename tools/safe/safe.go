package safe

import (
	"socialgw/logger"
)

// Go starts a new goroutine that recovers from panic,
// so a single connection's handler cannot crash the whole gateway.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[%s] panic recovered: %v", name, r)
			}
		}()
		f()
	}()
}

// Run executes f in the current goroutine with panic isolation.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[%s] panic recovered: %v", name, r)
		}
	}()
	f()
}
