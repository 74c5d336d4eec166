package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusInvokesHandlersInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string

	bus.Subscribe(TypeRequestApproved, "first", func(ctx context.Context, e Event) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe(TypeRequestApproved, "second", func(ctx context.Context, e Event) error {
		order = append(order, "second")
		return nil
	})

	results := bus.Publish(context.Background(), RequestApproved{RequestID: "req-1", At: time.Now()})
	require.Equal(t, []string{"first", "second"}, order)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
}

func TestBusIsolatesFailingHandler(t *testing.T) {
	bus := NewBus(nil)
	audited := false

	bus.Subscribe(TypeCredentialIssued, "notify", func(ctx context.Context, e Event) error {
		return errors.New("smtp unreachable")
	})
	bus.Subscribe(TypeCredentialIssued, "audit", func(ctx context.Context, e Event) error {
		audited = true
		return nil
	})

	results := bus.Publish(context.Background(), CredentialIssued{CredentialID: "cred-1", At: time.Now()})
	require.True(t, audited, "audit handler must run despite the notification failure")
	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
}

func TestBusRecoversPanickingHandler(t *testing.T) {
	bus := NewBus(nil)
	ran := false

	bus.Subscribe(TypeCredentialExpired, "explosive", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(TypeCredentialExpired, "survivor", func(ctx context.Context, e Event) error {
		ran = true
		return nil
	})

	results := bus.Publish(context.Background(), CredentialExpired{CredentialID: "cred-1", At: time.Now()})
	require.True(t, ran)
	require.Error(t, results[0].Err)
	require.Contains(t, results[0].Err.Error(), "handler panic")
}

func TestBusIgnoresUnrelatedEventTypes(t *testing.T) {
	bus := NewBus(nil)
	called := 0

	bus.Subscribe(TypeRequestApproved, "approvals-only", func(ctx context.Context, e Event) error {
		called++
		return nil
	})

	results := bus.Publish(context.Background(), CredentialExpired{CredentialID: "cred-1", At: time.Now()})
	require.Zero(t, called)
	require.Empty(t, results)
}
