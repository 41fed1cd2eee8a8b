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

package usage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
)

func TestFetchOnLocalUntrackedIsObjectNotExists(t *testing.T) {
	table := NewTable()
	_, err := table.FetchOnLocal(types.NewBlobID(1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no such object")
}

func TestFetchOnLocalUnsealedIsObjectNotSealed(t *testing.T) {
	table := NewTable()
	id := types.NewBlobID(1)
	table.AddUsage(id, types.Payload{ObjectID: id, IsSealed: false})

	_, err := table.FetchOnLocal(id)
	require.Error(t, err)

	var status *common.Status
	require.ErrorAs(t, err, &status)
	require.Equal(t, common.KObjectNotSealed, status.Code)
}

func TestAddUsageReportsFirstUseOnlyOnce(t *testing.T) {
	table := NewTable()
	id := types.NewBlobID(1)
	payload := types.Payload{ObjectID: id, IsSealed: true, DataSize: 16}

	count, first := table.AddUsage(id, payload)
	require.EqualValues(t, 1, count)
	require.True(t, first)

	count, first = table.AddUsage(id, payload)
	require.EqualValues(t, 2, count)
	require.False(t, first)

	got, err := table.FetchOnLocal(id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestRemoveUsageInvokesOnReleaseOnlyAtZero(t *testing.T) {
	table := NewTable()
	id := types.NewBlobID(7)
	payload := types.Payload{ObjectID: id, IsSealed: true}

	var released []types.ObjectID
	table.OnRelease(func(released_id types.ObjectID) {
		released = append(released, released_id)
	})

	table.AddUsage(id, payload)
	table.AddUsage(id, payload)

	table.RemoveUsage(id)
	require.Empty(t, released, "two holders still outstanding, should not release yet")

	table.RemoveUsage(id)
	require.Equal(t, []types.ObjectID{id}, released)

	_, err := table.FetchOnLocal(id)
	require.Error(t, err, "entry should be gone once local count hits zero")
}

func TestRemoveUsageOnUntrackedIdIsNoop(t *testing.T) {
	table := NewTable()
	called := false
	table.OnRelease(func(types.ObjectID) { called = true })
	table.RemoveUsage(types.NewBlobID(99))
	require.False(t, called)
}

func TestDeleteUsageDropsEntryRegardlessOfCount(t *testing.T) {
	table := NewTable()
	id := types.NewBlobID(3)
	payload := types.Payload{ObjectID: id, IsSealed: true}

	table.AddUsage(id, payload)
	table.AddUsage(id, payload)
	table.DeleteUsage(id)

	_, err := table.FetchOnLocal(id)
	require.Error(t, err)
}

func TestIncreaseReferenceCountMirrorsAddUsage(t *testing.T) {
	table := NewTable()
	id := types.NewBlobID(5)
	payload := types.Payload{ObjectID: id, IsSealed: true}

	require.True(t, table.IncreaseReferenceCount(id, payload))
	require.False(t, table.IncreaseReferenceCount(id, payload))
}
