package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orderdesk/internal/lineitem"
	"github.com/noah-isme/orderdesk/internal/order"
)

func TestRegistryLifecycle(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	reg := order.NewRegistry(order.RegistryConfig{
		Fetcher: &fakeFetcher{},
		IdleTTL: time.Hour,
		Now:     func() time.Time { return now },
	})

	idA, aggA, err := reg.Create(lineitem.FlowOrder)
	require.NoError(t, err)
	idB, _, err := reg.Create(lineitem.FlowDelivery)
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)
	require.Equal(t, 2, reg.Len())

	got, err := reg.Get(idA)
	require.NoError(t, err)
	require.Same(t, aggA, got)

	now = now.Add(50 * time.Minute)
	_, err = reg.Get(idA)
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	require.Equal(t, 1, reg.Sweep())
	_, err = reg.Get(idB)
	require.ErrorIs(t, err, order.ErrFormNotFound)
	require.ErrorIs(t, err, lineitem.ErrNotFound)

	require.True(t, reg.Discard(idA))
	require.False(t, reg.Discard(idA))
	require.Zero(t, reg.Len())
}

func TestRegistryRejectsUnknownFlow(t *testing.T) {
	reg := order.NewRegistry(order.RegistryConfig{Fetcher: &fakeFetcher{}})
	_, _, err := reg.Create(lineitem.Flow(42))
	require.ErrorIs(t, err, order.ErrInvalidInput)
	require.Zero(t, reg.Len())
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg := order.NewRegistry(order.RegistryConfig{Fetcher: &fakeFetcher{}, IdleTTL: time.Nanosecond})
	_, _, err := reg.Create(lineitem.FlowOrder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
