package services_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maogitmao/billions-dollars/services"
)

func TestSymbolRegistryAddIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)

	added, err := reg.Add("sh600519")
	require.NoError(t, err)
	require.True(t, added)

	added, err = reg.Add("sh600519")
	require.NoError(t, err)
	require.False(t, added, "re-adding a watched symbol must be a no-op")

	require.Equal(t, 1, reg.Len())
	require.True(t, reg.Has("sh600519"))
}

func TestSymbolRegistryRemove(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	_, err := reg.Add("sz000001")
	require.NoError(t, err)

	require.True(t, reg.Remove("sz000001"))
	require.False(t, reg.Remove("sz000001"), "removing an absent symbol must be a no-op")
	require.False(t, reg.Has("sz000001"))
	require.Equal(t, 0, reg.Len())
}

func TestSymbolRegistrySnapshotKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	for _, sym := range []string{"sh600519", "sz000001", "sh601318"} {
		_, err := reg.Add(sym)
		require.NoError(t, err)
	}

	require.Equal(t, []string{"sh600519", "sz000001", "sh601318"}, reg.Snapshot())

	// A removed then re-added symbol moves to the end.
	reg.Remove("sz000001")
	_, err := reg.Add("sz000001")
	require.NoError(t, err)

	require.Equal(t, []string{"sh600519", "sh601318", "sz000001"}, reg.Snapshot())
}

func TestSymbolRegistrySnapshotIsACopy(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	_, err := reg.Add("sh600036")
	require.NoError(t, err)

	snap := reg.Snapshot()
	snap[0] = "mutated"

	require.Equal(t, []string{"sh600036"}, reg.Snapshot())
}

func TestSymbolRegistryCapacity(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(3)
	for i := 0; i < 3; i++ {
		_, err := reg.Add(fmt.Sprintf("sh60000%d", i))
		require.NoError(t, err)
	}

	added, err := reg.Add("sh600999")
	require.Error(t, err)
	require.False(t, added)
	require.Equal(t, 3, reg.Len())

	// A symbol already watched is not rejected by the full registry.
	added, err = reg.Add("sh600001")
	require.NoError(t, err)
	require.False(t, added)

	// Removing one frees a slot.
	require.True(t, reg.Remove("sh600000"))
	added, err = reg.Add("sh600999")
	require.NoError(t, err)
	require.True(t, added)
}

func TestSymbolRegistryConcurrentAdds(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("sh6005%02d", i)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, sym := range symbols {
				_, _ = reg.Add(sym)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, len(symbols), reg.Len())
	require.ElementsMatch(t, symbols, reg.Snapshot())
}
