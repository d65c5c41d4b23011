package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/workflow"
)

func TestWorkflowRepository_deliveries(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowRepository(Open())
	t0 := time.Date(2021, 5, 3, 9, 0, 0, 0, time.UTC)

	delivery := func(key string, createdAt time.Time) workflow.Delivery {
		return workflow.Delivery{
			OrganizationID: "org",
			IdempotencyKey: key,
			Channel:        workflow.ChannelInApp,
			Status:         workflow.StatusPending,
			NextAttemptAt:  createdAt,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		}
	}

	n, err := repo.EnqueueDeliveries(ctx, []workflow.Delivery{
		delivery("b", t0.Add(time.Second)),
		delivery("a", t0),
		delivery("a", t0), // same key in the same batch
		delivery("c", t0.Add(time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.EnqueueDeliveries(ctx, []workflow.Delivery{delivery("a", t0)})
	require.NoError(t, err)
	assert.Zero(t, n)

	keys := func(ds []workflow.Delivery) []string {
		out := make([]string, 0, len(ds))
		for _, d := range ds {
			out = append(out, d.IdempotencyKey)
		}
		return out
	}

	// c is not due, oldest first
	claimed, err := repo.ClaimDueDeliveries(ctx, t0.Add(time.Minute), 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys(claimed))
	require.NotNil(t, claimed[0].LockedUntil)
	assert.Equal(t, t0.Add(2*time.Minute), *claimed[0].LockedUntil)

	// locked until the lease expires
	claimed2, err := repo.ClaimDueDeliveries(ctx, t0.Add(90*time.Second), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed2)

	sent := claimed[0]
	sent.Status = workflow.StatusSent
	sent.LockedUntil = nil
	_, err = repo.UpdateDelivery(ctx, sent)
	require.NoError(t, err)

	claimed, err = repo.ClaimDueDeliveries(ctx, t0.Add(2*time.Hour), 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys(claimed), "limit applies and sent deliveries are never claimed")

	done, err := repo.QueryDeliveries(ctx, "org", workflow.DeliveryFilter{Status: workflow.StatusSent})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys(done))

	others, err := repo.QueryDeliveries(ctx, "other", workflow.DeliveryFilter{})
	require.NoError(t, err)
	assert.Empty(t, others)
}
