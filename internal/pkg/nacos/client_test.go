package nacos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerConfigs(t *testing.T) {
	cfgs, err := parseServerConfigs("10.0.0.1:8848, 10.0.0.2:8849")
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "10.0.0.1", cfgs[0].IpAddr)
	assert.Equal(t, uint64(8848), cfgs[0].Port)
	assert.Equal(t, "10.0.0.2", cfgs[1].IpAddr)
	assert.Equal(t, uint64(8849), cfgs[1].Port)
}

func TestParseServerConfigs_Invalid(t *testing.T) {
	for _, addrs := range []string{"", "no-port", "host:abc", ":8848"} {
		_, err := parseServerConfigs(addrs)
		assert.Error(t, err, addrs)
	}
}
