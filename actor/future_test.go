package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/replogio/replog/actor"
)

func TestFuture_ResolveThenWait(t *testing.T) {
	f := actor.NewFuture[int]()
	f.Resolve(42)

	v, err := f.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFuture_ResolveOnlyOnce(t *testing.T) {
	f := actor.NewFuture[int]()
	f.Resolve(1)
	f.Resolve(2)

	assert.Equal(t, 1, f.Value())
}

func TestFuture_WaitCancelled(t *testing.T) {
	f := actor.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_ConcurrentResolve(t *testing.T) {
	f := actor.NewFuture[int]()
	done := make(chan struct{})
	go func() {
		f.Resolve(7)
		close(done)
	}()

	v, err := f.Wait(context.Background())
	<-done
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.True(t, f.IsResolved())
}
