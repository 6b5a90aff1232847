package numbering

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMemoryAllocator(t *testing.T) {
	ctx := context.Background()

	t.Run("numbers are sequential per year", func(t *testing.T) {
		alloc := NewMemory()
		for want := 1; want <= 3; want++ {
			n, err := alloc.Next(ctx, 2026)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
	})

	t.Run("years count independently", func(t *testing.T) {
		alloc := NewMemory()
		n, err := alloc.Next(ctx, 2025)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = alloc.Next(ctx, 2026)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = alloc.Next(ctx, 2025)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("concurrent allocations never collide", func(t *testing.T) {
		alloc := NewMemory()
		const workers = 50

		var mu sync.Mutex
		numbers := make([]int, 0, workers)

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			g.Go(func() error {
				n, err := alloc.Next(gctx, 2026)
				if err != nil {
					return err
				}
				mu.Lock()
				numbers = append(numbers, n)
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		sort.Ints(numbers)
		for i, n := range numbers {
			assert.Equal(t, i+1, n)
		}
	})
}
