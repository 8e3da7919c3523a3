package tools

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_TryLock(t *testing.T) {
	km := NewKeyedMutex()

	assert.True(t, km.TryLock("a"))
	assert.False(t, km.TryLock("a"), "second acquisition of a held key must fail")
	assert.True(t, km.TryLock("b"), "other keys are independent")

	km.Unlock("a")
	assert.True(t, km.TryLock("a"))
	km.Unlock("a")
	km.Unlock("b")

	assert.False(t, km.Locked("a"))
}

func TestKeyedMutex_Concurrent(t *testing.T) {
	km := NewKeyedMutex()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("counter")
			counter++
			km.Unlock("counter")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestKeyedMutex_UnlockUnlocked(t *testing.T) {
	km := NewKeyedMutex()
	assert.Panics(t, func() {
		km.Unlock("nope")
	})
}
