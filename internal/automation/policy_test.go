package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.failures), "failures=%d", tt.failures)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
}

func TestRegistry_PerActionPolicy(t *testing.T) {
	r := NewRegistry(RetryPolicy{MaxRetries: 5}, 0)
	noop := ActionFunc(func(context.Context, Invocation) (map[string]any, error) { return nil, nil })
	r.Register("send_welcome_email", noop, WithPolicy(RetryPolicy{MaxRetries: 1}), WithTimeout(time.Second))
	r.Register("create_project", noop)

	_, p, timeout, err := r.Lookup("send_welcome_email")
	require.NoError(t, err)
	assert.Equal(t, 1, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialInterval, "unset fields come from the defaults")
	assert.Equal(t, time.Second, timeout)

	assert.Equal(t, 5, r.MaxRetries("create_project"))
	_, _, timeout, err = r.Lookup("create_project")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, timeout)

	_, _, _, err = r.Lookup("sync_invoicing")
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Equal(t, 5, r.MaxRetries("sync_invoicing"))

	r.SetFallback(noop)
	_, _, _, err = r.Lookup("sync_invoicing")
	assert.NoError(t, err)
	assert.Equal(t, []string{"create_project", "send_welcome_email"}, r.Names())
}
