package cache

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, p.Del(ctx, "k"))
	assert.NoError(t, p.Close())
}

func TestMemoryProviderTTL(t *testing.T) {
	clk := clock.NewMock()
	p := NewMemoryProvider(clk)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "snap", []byte("one"), time.Minute))
	require.NoError(t, p.Set(ctx, "forever", []byte("two"), 0))

	got, err := p.Get(ctx, "snap")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	clk.Add(time.Minute)
	_, err = p.Get(ctx, "snap")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err = p.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	require.NoError(t, p.Del(ctx, "forever"))
	_, err = p.Get(ctx, "forever")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	p := NewMemoryProvider(nil)
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, p.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
