package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_ScriptedOrder(t *testing.T) {
	m := NewMock("first", "second")
	m.Fallback = "fallback"

	for _, want := range []string{"first", "second", "fallback"} {
		out, errCh := m.Generate(context.Background(), Request{})
		got, err := Collect(out, errCh)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 3, m.Calls())
}

func TestMock_StreamingChunks(t *testing.T) {
	m := NewMock("abcdefghij")
	m.ChunkSize = 4

	out, errCh := m.Generate(context.Background(), Request{Stream: true})

	var partials []string
	var final string
	for resp := range out {
		if resp.Partial {
			partials = append(partials, resp.Text)
		} else {
			final = resp.Text
		}
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, partials)
	assert.Equal(t, "abcdefghij", final)
}

func TestMock_Error(t *testing.T) {
	m := NewMock()
	m.Err = errors.New("upstream down")

	out, errCh := m.Generate(context.Background(), Request{})
	_, err := Collect(out, errCh)
	assert.EqualError(t, err, "upstream down")
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(2)
	require.NoError(t, l.Increment())
	require.NoError(t, l.Increment())
	assert.Error(t, l.Increment())
	assert.Equal(t, 3, l.Count())

	unlimited := NewLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Increment())
	}
}
