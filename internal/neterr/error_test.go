package neterr

import (
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError_ConnectionRefused(t *testing.T) {
	_, err := net.Dial("tcp", "localhost:59123") // port where nothing is listening
	t.Logf("error: %v", err)
	require.Error(t, err)
	assert.True(t, IsRetryableError(err))
}

func TestIsRetryableError_ClosedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	conn.Close()

	_, err = conn.Write([]byte("test"))
	t.Logf("error: %v", err)
	require.Error(t, err)
	assert.True(t, IsRetryableError(err))
}

func TestIsRetryableError_Wrapped(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("reading response: %w", os.ErrDeadlineExceeded)))
	assert.True(t, IsRetryableError(&net.DNSError{Err: "server misbehaving", IsTemporary: true}))
	assert.False(t, IsRetryableError(&net.DNSError{Err: "no such host", IsNotFound: true}))
	assert.False(t, IsRetryableError(errors.New("login failed")))
	assert.False(t, IsRetryableError(nil))
}
