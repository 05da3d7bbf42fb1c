package customer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory([]types.CustomerContext{{CustomerID: "c-1", Tier: "vip", LifetimeValue: 12000}})

	c, err := d.GetContext(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "vip", c.Tier)

	c.Tier = "changed"
	again, _ := d.GetContext(context.Background(), "c-1")
	assert.Equal(t, "vip", again.Tier, "callers get copies")

	_, err = d.GetContext(context.Background(), "c-2")
	assert.ErrorIs(t, err, ErrNotFound)

	d.Put(types.CustomerContext{CustomerID: "c-2", Tier: "standard"})
	assert.Equal(t, 2, d.Len())

	d.Replace(nil)
	assert.Equal(t, 0, d.Len())
}

func TestCancelledContext(t *testing.T) {
	d := NewStaticDirectory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.GetContext(ctx, "c-1")
	assert.ErrorIs(t, err, context.Canceled)
}
