package llm

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/bookkeeper/internal/model"
)

func TestSuggestionCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := newSuggestionCache(5 * time.Minute)

		_, found := cache.get("non-existent")
		assert.False(t, found)

		suggestion := &model.CategorySuggestion{Category: "Dining", Confidence: 0.95, Source: model.SourceLLM}
		cache.set("key1", suggestion)

		got, found := cache.get("key1")
		require.True(t, found)
		assert.Equal(t, suggestion, got)

		cache.set("abstained", nil)
		got, found = cache.get("abstained")
		assert.True(t, found)
		assert.Nil(t, got)
		assert.Equal(t, 2, cache.size())
	})

	t.Run("expiration", func(t *testing.T) {
		cache := newSuggestionCache(time.Minute)
		now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		cache.now = func() time.Time { return now }

		cache.set("k", &model.CategorySuggestion{Category: "Shopping"})
		_, found := cache.get("k")
		assert.True(t, found)

		now = now.Add(2 * time.Minute)
		_, found = cache.get("k")
		assert.False(t, found)

		cache.set("other", nil)
		assert.Equal(t, 1, cache.size(), "expired entries are swept on set")
	})

	t.Run("disabled", func(t *testing.T) {
		cache := newSuggestionCache(-1)
		cache.set("k", &model.CategorySuggestion{Category: "Shopping"})
		_, found := cache.get("k")
		assert.False(t, found)
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := newSuggestionCache(5 * time.Minute)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					key := fmt.Sprintf("k%d", j%10)
					cache.set(key, &model.CategorySuggestion{Category: "Test"})
					cache.get(key)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 10, cache.size())
	})
}
