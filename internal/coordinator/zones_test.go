package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/models"
)

func TestClaimZoneAndLookup(t *testing.T) {
	c := openTestCoordinator(t)

	_, err := c.ClaimZone("api", "/src/api", "alice", "api surface")
	require.NoError(t, err)
	_, err = c.ClaimZone("handlers", "/src/api/handlers", "bob", "")
	require.NoError(t, err)
	_, err = c.ClaimZone("docs", "/docs", "carol", "")
	require.NoError(t, err)

	// Longest matching prefix wins when zones overlap.
	zone, err := c.ZoneForPath("/src/api/handlers/users.go")
	require.NoError(t, err)
	require.NotNil(t, zone)
	assert.Equal(t, "bob", zone.Owner)

	zone, err = c.ZoneForPath("/src/api/models.go")
	require.NoError(t, err)
	require.NotNil(t, zone)
	assert.Equal(t, "alice", zone.Owner)

	// Resolving twice yields the same zone.
	again, err := c.ZoneForPath("/src/api/models.go")
	require.NoError(t, err)
	assert.Equal(t, zone.ZoneID, again.ZoneID)

	zone, err = c.ZoneForPath("/scripts/build.sh")
	require.NoError(t, err)
	assert.Nil(t, zone)
}

func TestClaimZoneContentionOnSameID(t *testing.T) {
	c := openTestCoordinator(t)

	_, err := c.ClaimZone("api", "/src/api", "alice", "")
	require.NoError(t, err)

	_, err = c.ClaimZone("api", "/src/api", "bob", "")
	var contention *models.ContentionError
	require.ErrorAs(t, err, &contention)
	assert.Equal(t, "alice", contention.Owner)

	// Same owner refreshes the claim.
	zone, err := c.ClaimZone("api", "/src/api/v2", "alice", "v2 rollout")
	require.NoError(t, err)
	assert.Equal(t, "/src/api/v2", zone.Path)
}

func TestReleaseZoneOwnership(t *testing.T) {
	c := openTestCoordinator(t)

	_, err := c.ClaimZone("api", "/src/api", "alice", "")
	require.NoError(t, err)

	err = c.ReleaseZone("api", "bob")
	var ownership *models.OwnershipError
	require.ErrorAs(t, err, &ownership)

	require.NoError(t, c.ReleaseZone("api", "alice"))

	err = c.ReleaseZone("api", "alice")
	var notFound *models.NotFoundError
	require.ErrorAs(t, err, &notFound)

	zones, err := c.ListZones()
	require.NoError(t, err)
	assert.Empty(t, zones)
}

func TestZoneMutationsPostSystemLines(t *testing.T) {
	c := openTestCoordinator(t)

	_, err := c.ClaimZone("api", "/src/api", "alice", "")
	require.NoError(t, err)
	require.NoError(t, c.ReleaseZone("api", "alice"))

	chat, err := c.TailChat(10)
	require.NoError(t, err)
	require.Len(t, chat, 2)
	assert.Equal(t, models.AuthorSystem, chat[0].AuthorType)
	assert.Contains(t, chat[0].Message, "claimed zone")
	assert.Contains(t, chat[1].Message, "released zone")
}
