// Package browserprocess keeps track of launched browser processes so they
// can be killed when dashcheck has to shut down abruptly.
package browserprocess

import (
	"os"
	"sort"
	"sync"

	"github.com/reclamefabriek/dashcheck/log"
)

var (
	browserProcessRegister   = map[int]struct{}{} //nolint:gochecknoglobals
	browserProcessRegisterMu = sync.Mutex{}       //nolint:gochecknoglobals
)

// Register records a running browser process.
func Register(logger *log.Logger, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	logger.Debugf("BrowserProcess:register", "registered BrowserProcess pid %d", pid)

	browserProcessRegister[pid] = struct{}{}
}

// Deregister forgets a browser process that ended normally.
func Deregister(logger *log.Logger, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	if _, ok := browserProcessRegister[pid]; !ok {
		return
	}
	logger.Debugf("BrowserProcess:deregister", "deregistered BrowserProcess pid %d", pid)

	delete(browserProcessRegister, pid)
}

// Registered returns the registered pids in ascending order.
func Registered() []int {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	pids := make([]int, 0, len(browserProcessRegister))
	for pid := range browserProcessRegister {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	return pids
}

// ForceProcessShutdown should be called when dashcheck has to shut down
// without closing its browsers, e.g. on a second interrupt or a panic.
func ForceProcessShutdown() {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	for pid := range browserProcessRegister {
		Kill(pid)
		delete(browserProcessRegister, pid)
	}
}

// Kill looks for and kills the process with the given pid. It is a
// variable so tests can replace it.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}
