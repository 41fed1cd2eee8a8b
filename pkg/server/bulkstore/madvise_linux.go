//go:build linux

package bulkstore

import "syscall"

// adviseDontNeed tells the kernel the backing pages of data can be
// dropped immediately; this is the only mechanism by which a spilled
// payload's resident memory is actually reclaimed, since the region
// itself is never unmapped or shrunk.
func adviseDontNeed(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = syscall.Madvise(data, syscall.MADV_DONTNEED)
}
