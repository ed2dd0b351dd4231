package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnv_Address(t *testing.T) {
	t.Setenv("SHAREDTRAIN_TEST_ADDR", " 10.1.2.3 ")
	addr, err := NewEnv("SHAREDTRAIN_TEST_ADDR").Address()
	require.NoError(t, err)
	require.Equal(t, "10.1.2.3", addr)
}

func TestEnv_FallsBackToHostname(t *testing.T) {
	t.Setenv("SHAREDTRAIN_TEST_ADDR", "")
	e := NewEnv("SHAREDTRAIN_TEST_ADDR")
	e.hostname = func() (string, error) { return "trainer-7", nil }

	addr, err := e.Address()
	require.NoError(t, err)
	require.Equal(t, "trainer-7", addr)

	e.hostname = func() (string, error) { return "", errors.New("no hostname") }
	_, err = e.Address()
	require.Error(t, err)
}

func TestStatic_Address(t *testing.T) {
	addr, err := Static("host:1").Address()
	require.NoError(t, err)
	require.Equal(t, "host:1", addr)
}
