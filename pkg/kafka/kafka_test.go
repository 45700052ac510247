package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

type payload struct {
	Op   string `json:"op"`
	Path string `json:"path"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[payload]([]byte(`{"op":"upsert","path":"/a"}`))
	require.NoError(t, err)
	assert.Equal(t, payload{Op: "upsert", Path: "/a"}, got)
}

func TestDecodeJSON_FailureIsNotRetried(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), "decode", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond},
		func(context.Context) error {
			calls++
			_, err := DecodeJSON[payload]([]byte(`{not json`))
			return err
		})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
