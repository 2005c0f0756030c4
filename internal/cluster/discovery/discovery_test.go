package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStaticWithExplicitIDs(t *testing.T) {
	peers := ParseStatic("n1=10.0.0.1:7000,n2=10.0.0.2:7000")
	assert.Equal(t, "10.0.0.1:7000", peers["n1"])
	assert.Equal(t, "10.0.0.2:7000", peers["n2"])
}

func TestParseStaticWithBareAddresses(t *testing.T) {
	peers := ParseStatic("10.0.0.1:7000, 10.0.0.2:7000")
	assert.Equal(t, "10.0.0.1:7000", peers["10.0.0.1:7000"])
	assert.Equal(t, "10.0.0.2:7000", peers["10.0.0.2:7000"])
}

func TestParseStaticIgnoresEmptyEntries(t *testing.T) {
	peers := ParseStatic("n1=10.0.0.1:7000,,  ,")
	assert.Len(t, peers, 1)
}
