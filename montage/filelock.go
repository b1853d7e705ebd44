package montage

import (
	"os"
	"sync"

	"github.com/ti-toolbox/tit-core/titerrors"
)

// crossProcessLocks guards against two Store instances in the same
// process racing on the same montage_list.json path; the .lock sentinel
// file is the best-effort cross-process half of the discipline.
var (
	crossProcessLocksMu sync.Mutex
	crossProcessLocks    = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	crossProcessLocksMu.Lock()
	defer crossProcessLocksMu.Unlock()
	if m, ok := crossProcessLocks[path]; ok {
		return m
	}
	m := &sync.Mutex{}
	crossProcessLocks[path] = m
	return m
}

// withFileLock serializes writers to path across goroutines in this
// process via an in-memory mutex, and advertises single-writer intent to
// other processes via a sentinel ".lock" file created for the duration
// of fn. The sentinel is advisory: a stale lock file from a crashed
// writer is reclaimed rather than treated as a hard failure, since this
// module has no cross-process heartbeat to tell a stale lock from a live
// one.
func withFileLock(path string, fn func() error) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		// Reclaim: a live contender in this process would still hold the
		// in-memory mutex, so a lockfile found here is either stale or
		// held by another process; it is removed and re-created in
		// either case.
		_ = os.Remove(lockPath)
		f, err = os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return titerrors.NewIOError(lockPath, "failed to acquire montage store lock", err)
	}
	defer func() {
		f.Close()
		os.Remove(lockPath)
	}()

	return fn()
}
