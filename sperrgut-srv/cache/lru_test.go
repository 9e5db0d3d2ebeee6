package cache

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRURoundTrip(t *testing.T) {
	c := NewLRU(3)
	data := []byte("HTTP/1.1 200 OK\r\n\r\nhello")

	c.Put("GET / HTTP/1.1 | Host: example.com", data)
	got, ok := c.Get("GET / HTTP/1.1 | Host: example.com")
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestLRUPutCopiesData(t *testing.T) {
	c := NewLRU(1)
	data := []byte("abc")
	c.Put("k", data)
	data[0] = 'x'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestLRUGetMissDoesNotChangeOccupancy(t *testing.T) {
	c := NewLRU(2)
	c.Put("a", []byte("1"))

	got, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"a"}, c.Keys())
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(2)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))

	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", []byte("3"))

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	assert.ElementsMatch(t, []string{"a", "c"}, c.Keys())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestLRUReplaceKeepsOccupancyAndPromotes(t *testing.T) {
	c := NewLRU(2)
	c.Put("a", []byte("old"))
	c.Put("b", []byte("2"))
	c.Put("a", []byte("new"))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", string(got))

	// b is now least recently used.
	c.Put("c", []byte("3"))
	assert.Equal(t, []string{"c", "a"}, c.Keys())
}

func TestLRURejectsOversizedData(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		stored bool
	}{
		{"just below limit", MaxEntrySize - 1, true},
		{"at limit", MaxEntrySize, false},
		{"above limit", MaxEntrySize + 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLRU(2)
			c.Put("k", bytes.Repeat([]byte("x"), tt.size))

			got, ok := c.Get("k")
			assert.Equal(t, tt.stored, ok)
			if tt.stored {
				assert.Len(t, got, tt.size)
			} else {
				assert.Equal(t, 0, c.Len())
				assert.Equal(t, uint64(1), c.Stats().Rejected)
			}
		})
	}
}

func TestLRUOversizedPutKeepsPreviousValue(t *testing.T) {
	c := NewLRU(2)
	c.Put("k", []byte("small"))
	c.Put("k", bytes.Repeat([]byte("x"), MaxEntrySize))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "small", string(got))
}

func TestLRUDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewLRU(0).Capacity())
	assert.Equal(t, DefaultCapacity, NewLRU(-5).Capacity())
	assert.Equal(t, 7, NewLRU(7).Capacity())
}

func TestLRUStats(t *testing.T) {
	c := NewLRU(2)
	c.Put("a", []byte("1"))
	c.Get("a")
	c.Get("a")
	c.Get("b")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 2, stats.Capacity)
}

func TestLRUResize(t *testing.T) {
	c := NewLRU(4)
	for _, k := range []string{"a", "b", "c", "d"} {
		c.Put(k, []byte(k))
	}
	c.Get("a")
	before := c.Stats()

	smaller := c.Resize(2)
	assert.Equal(t, 2, smaller.Capacity())
	assert.Equal(t, []string{"a", "d"}, smaller.Keys())
	got, ok := smaller.Get("d")
	require.True(t, ok)
	assert.Equal(t, "d", string(got))

	larger := c.Resize(8)
	assert.Equal(t, []string{"a", "d", "c", "b"}, larger.Keys())

	assert.Equal(t, before, c.Stats(), "resizing must not touch the source cache")
	assert.Equal(t, []string{"a", "d", "c", "b"}, c.Keys())
}

// TestLRUMatchesRecencyModel replays random operations against a plain
// slice model and checks that the resident set is always the most recently
// touched keys.
func TestLRUMatchesRecencyModel(t *testing.T) {
	const capacity = 4
	rng := rand.New(rand.NewSource(42))
	c := NewLRU(capacity)
	model := []string{} // most recent first

	touch := func(key string) {
		for i, k := range model {
			if k == key {
				model = append(model[:i], model[i+1:]...)
				break
			}
		}
		model = append([]string{key}, model...)
	}

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("k%d", rng.Intn(10))
		if rng.Intn(2) == 0 {
			c.Put(key, []byte(key))
			touch(key)
			if len(model) > capacity {
				model = model[:capacity]
			}
		} else {
			_, ok := c.Get(key)
			inModel := false
			for _, k := range model {
				if k == key {
					inModel = true
					break
				}
			}
			require.Equal(t, inModel, ok, "step %d: presence of %s", i, key)
			if ok {
				touch(key)
			}
		}

		require.LessOrEqual(t, c.Len(), capacity)
		require.Equal(t, model, c.Keys(), "step %d", i)
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU(8)
	const goroutines = 32
	const ops = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				key := fmt.Sprintf("key-%d", (id+i)%16)
				if i%3 == 0 {
					c.Put(key, []byte(key))
					continue
				}
				if data, ok := c.Get(key); ok && string(data) != key {
					t.Errorf("key %s returned %q", key, data)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 8)
	assert.Len(t, c.Keys(), c.Len())
}
