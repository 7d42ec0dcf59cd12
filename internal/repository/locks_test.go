package repository

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(MessageLockKey(1))
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.Size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock(UserLockKey(1))
	// a different key must not block while the first is held
	unlockB := km.Lock(UserLockKey(2))
	assert.Equal(t, 2, km.Size())
	unlockB()
	unlockA()
	assert.Equal(t, 0, km.Size())
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "message:12", MessageLockKey(12))
	assert.Equal(t, "user:7", UserLockKey(7))
	assert.NotEqual(t, MessageLockKey(7), UserLockKey(7))
}
