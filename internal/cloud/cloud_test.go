package cloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceName(t *testing.T) {
	assert.Equal(t, "/dev/xvdba", DeviceName(0))
	assert.Equal(t, "/dev/xvdbb", DeviceName(1))
	assert.Equal(t, "/dev/xvdbz", DeviceName(25))
	assert.Equal(t, "/dev/xvdca", DeviceName(26))
	assert.Equal(t, "/dev/xvdcb", DeviceName(27))

	// Indexes within one batch never collide.
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		name := DeviceName(i)
		assert.False(t, seen[name], "duplicate device name %s", name)
		seen[name] = true
	}
}

func TestRegionFromZone(t *testing.T) {
	assert.Equal(t, "us-east-1", RegionFromZone("us-east-1a"))
	assert.Equal(t, "eu-central-1", RegionFromZone("eu-central-1c"))
	assert.Equal(t, "us-east-1", RegionFromZone("us-east-1"))
	assert.Equal(t, "", RegionFromZone(""))
}

func TestGroupStateIsScaledDown(t *testing.T) {
	assert.True(t, GroupState{}.IsScaledDown())
	assert.False(t, GroupState{DesiredCapacity: 1}.IsScaledDown())
	assert.False(t, GroupState{MinSize: 1}.IsScaledDown())
	assert.False(t, GroupState{MaxSize: 1}.IsScaledDown())
	assert.False(t, GroupState{InstanceIDs: []string{"i-1"}}.IsScaledDown())
}
