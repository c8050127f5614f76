package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("list root: %w", New(Timeout, "call", "/restconf/data", ""))

	assert.True(t, errors.Is(err, Timeout))
	assert.True(t, errors.Is(err, Connectivity), "timeouts are connectivity failures")
	assert.False(t, errors.Is(err, Rejected))
	assert.Equal(t, Timeout, KindOf(err))
}

func TestConnectivityDoesNotMatchTimeout(t *testing.T) {
	err := New(Connectivity, "call", "", "connection refused")
	assert.False(t, errors.Is(err, Timeout))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: Rejected, Op: "write", Path: "/a_v1/meta-info.json", Status: 400, Msg: "bad label"}
	assert.Equal(t, "write /a_v1/meta-info.json: bad label", err.Error())
	assert.Equal(t, 400, Status(err))

	bare := &Error{Kind: Permission}
	assert.Equal(t, "permission denied", bare.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(Connectivity, "x", "", nil))

	inner := errors.New("dial tcp: refused")
	err := Wrap(Connectivity, "call", "https://nsp", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, Unknown, KindOf(inner))
}
