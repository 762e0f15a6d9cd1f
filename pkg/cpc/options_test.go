package cpc_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	daemon "github.com/cpc-host/cpc-go/internal/testharness/mock"
	"github.com/cpc-host/cpc-go/pkg/cpc"
)

func TestOptionRoundTrip(t *testing.T) {
	d, s, _ := newSession(t)
	ep := openEndpoint(t, s, cpc.EndpointCLI)

	tests := []struct {
		kind  cpc.Option
		value any
		size  int
	}{
		{cpc.OptionBlocking, false, 1},
		{cpc.OptionRxTimeout, 250 * time.Millisecond, 16},
		{cpc.OptionTxTimeout, 3 * time.Second, 16},
		{cpc.OptionSocketSize, 8192, 4},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			require.NoError(t, ep.SetOption(tt.kind, tt.value))

			v, size, err := ep.GetOption(tt.kind, 16)
			require.NoError(t, err)
			assert.Equal(t, tt.value, v)
			assert.Equal(t, tt.size, size)
		})
	}

	dep, ok := d.Endpoint(uint8(cpc.EndpointCLI))
	require.True(t, ok)
	assert.Equal(t, uint32(8192), dep.SocketSize, "socket size is forwarded to the daemon")
}

func TestOptionDefaults(t *testing.T) {
	_, s, _ := newSession(t)
	ep := openEndpoint(t, s, cpc.EndpointCLI)

	v, _, err := ep.GetOption(cpc.OptionBlocking, 1)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, _, err = ep.GetOption(cpc.OptionSocketSize, 4)
	require.NoError(t, err)
	assert.Equal(t, cpc.DefaultSocketSize, v)

	v, size, err := ep.GetOption(cpc.OptionMaxWriteSize, 8)
	require.NoError(t, err)
	assert.Equal(t, daemon.DefaultMaxWriteSize, v)
	assert.Equal(t, 8, size)
	assert.Equal(t, daemon.DefaultMaxWriteSize, ep.MaxWriteSize())
}

func TestOptionErrors(t *testing.T) {
	_, s, _ := newSession(t)
	ep := openEndpoint(t, s, cpc.EndpointCLI)

	assert.ErrorIs(t, ep.SetOption(cpc.OptionMaxWriteSize, 100), cpc.ErrOptionNotSettable)
	assert.ErrorIs(t, ep.SetOption(cpc.OptionNone, true), cpc.ErrOptionNotSettable)
	assert.ErrorIs(t, ep.SetOption(cpc.OptionBlocking, 1), cpc.ErrInvalidOptionValue)
	assert.ErrorIs(t, ep.SetOption(cpc.OptionRxTimeout, 100), cpc.ErrInvalidOptionValue)
	assert.ErrorIs(t, ep.SetOption(cpc.OptionTxTimeout, -time.Second), cpc.ErrInvalidOptionValue)
	assert.ErrorIs(t, ep.SetOption(cpc.OptionSocketSize, 0), cpc.ErrInvalidOptionValue)
	assert.ErrorIs(t, ep.SetOption(cpc.Option(42), true), cpc.ErrInvalidOptionValue)

	_, _, err := ep.GetOption(cpc.OptionNone, 16)
	assert.ErrorIs(t, err, cpc.ErrInvalidOptionValue)
}

func TestGetOptionBufferTooSmall(t *testing.T) {
	_, s, _ := newSession(t)
	ep := openEndpoint(t, s, cpc.EndpointCLI)

	_, size, err := ep.GetOption(cpc.OptionRxTimeout, 8)
	assert.ErrorIs(t, err, cpc.ErrBufferTooSmall)
	assert.Equal(t, 16, size)

	var btse *cpc.BufferTooSmallError
	require.True(t, errors.As(err, &btse))
	assert.Equal(t, 16, btse.Required)
	assert.Equal(t, cpc.OptionRxTimeout, btse.Option)

	_, _, err = ep.GetOption(cpc.OptionMaxWriteSize, 4)
	assert.ErrorIs(t, err, cpc.ErrBufferTooSmall)
}

func TestOptionsOnClosedEndpoint(t *testing.T) {
	_, s, _ := newSession(t)
	ep := openEndpoint(t, s, cpc.EndpointCLI)
	require.NoError(t, ep.Close())

	assert.ErrorIs(t, ep.SetBlocking(false), cpc.ErrEndpointNotOpen)
	_, _, err := ep.GetOption(cpc.OptionBlocking, 1)
	assert.ErrorIs(t, err, cpc.ErrEndpointNotOpen)
}

func TestOptionSizes(t *testing.T) {
	assert.Equal(t, 1, cpc.OptionBlocking.Size())
	assert.Equal(t, 16, cpc.OptionRxTimeout.Size())
	assert.Equal(t, 16, cpc.OptionTxTimeout.Size())
	assert.Equal(t, 4, cpc.OptionSocketSize.Size())
	assert.Equal(t, 8, cpc.OptionMaxWriteSize.Size())
	assert.Equal(t, 0, cpc.OptionNone.Size())
}
