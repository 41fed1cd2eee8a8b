/** Copyright 2020-2023 Alibaba Group Holding Limited.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mmap

import (
	"syscall"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/vineyard-go/vineyard/pkg/common/types"
)

func newMemfdTable(t *testing.T, size int) (*SegmentTable, int) {
	fd, err := unix.MemfdCreate("segment-table-test", 0)
	require.NoError(t, err)
	require.NoError(t, syscall.Ftruncate(fd, int64(size)))
	t.Cleanup(func() { _ = syscall.Close(fd) })
	return NewSegmentTable(), fd
}

func TestSegmentTableExistsDedupsByStoreFd(t *testing.T) {
	table, fd := newMemfdTable(t, 4096)
	const storeFd = 11

	require.False(t, table.Exists(storeFd))
	_, err := table.PreMmap(storeFd, fd, 4096, false)
	require.NoError(t, err)
	require.True(t, table.Exists(storeFd))

	// A second PreMmap for the same store_fd is a no-op, not a second mmap.
	entry, err := table.PreMmap(storeFd, fd, 4096, false)
	require.NoError(t, err)
	require.Len(t, entry.Data, 4096)

	require.NoError(t, table.Close())
}

func TestSegmentTableLocateFindsPointerInsideRegisteredInterval(t *testing.T) {
	table, fd := newMemfdTable(t, 4096)
	const storeFd = 22
	_, err := table.PreMmap(storeFd, fd, 4096, false)
	require.NoError(t, err)

	first := types.NewBlobID(1)
	firstBytes, err := table.Bytes(storeFd, 0, 64)
	require.NoError(t, err)
	table.RegisterInterval(firstBytes, first)

	second := types.NewBlobID(2)
	secondBytes, err := table.Bytes(storeFd, 64, 64)
	require.NoError(t, err)
	table.RegisterInterval(secondBytes, second)

	base := uintptr(unsafe.Pointer(&firstBytes[0]))
	id, ok := table.Locate(base)
	require.True(t, ok)
	require.Equal(t, first, id)

	id, ok = table.Locate(base + 10)
	require.True(t, ok)
	require.Equal(t, first, id)

	secondBase := uintptr(unsafe.Pointer(&secondBytes[0]))
	id, ok = table.Locate(secondBase)
	require.True(t, ok)
	require.Equal(t, second, id)

	_, ok = table.Locate(base - 1)
	require.False(t, ok)

	require.NoError(t, table.Close())
}
