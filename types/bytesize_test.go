package types

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestByteSize(t *testing.T) {
	t.Run("parses IEC and SI units", func(t *testing.T) {
		n, err := ParseByteSize("200MiB")
		require.NoError(t, err)
		require.Equal(t, 200*MiB, n)

		n, err = ParseByteSize("2GB")
		require.NoError(t, err)
		require.Equal(t, ByteSize(2_000_000_000), n)

		n, err = ParseByteSize("4096")
		require.NoError(t, err)
		require.Equal(t, 4*KiB, n)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseByteSize("lots")
		require.Error(t, err)
	})

	t.Run("yaml round trip", func(t *testing.T) {
		var doc struct {
			Limit ByteSize `yaml:"limit"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("limit: 2GiB\n"), &doc))
		require.Equal(t, 2*GiB, doc.Limit)

		out, err := yaml.Marshal(doc)
		require.NoError(t, err)
		require.Contains(t, string(out), "2.0 GiB")
	})
}
