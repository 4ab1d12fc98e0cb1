package directory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/crosstalk/internal/models"
)

func TestReplaceConfirmsAndDrops(t *testing.T) {
	c := NewCache("T1")
	c.Replace([]models.Channel{
		{ID: "C1", Name: "general"},
		{ID: "C2", Name: "random"},
	}, nil, "")

	// An event taught us about C3 before any fetch confirmed it.
	c.ApplyChannel(models.Channel{ID: "C3", Name: "C3", Provisional: true})

	// The next fetch only knows C1. C2 vanishes, C3 vanishes too (nothing
	// pins it), C1 stays confirmed.
	c.Replace([]models.Channel{{ID: "C1", Name: "general"}}, nil, "")

	snap := c.Snapshot()
	require.Len(t, snap.Channels, 1)
	assert.False(t, snap.Channels["C1"].Provisional)
}

func TestReplaceKeepsCurrentChannel(t *testing.T) {
	c := NewCache("T1")
	c.Replace([]models.Channel{
		{ID: "C1", Name: "general"},
		{ID: "C2", Name: "random"},
	}, nil, "")

	// C2 is the current channel; a fetch that omits it must not yank it
	// out from under the conversation.
	c.Replace([]models.Channel{{ID: "C1", Name: "general"}}, nil, "C2")

	snap := c.Snapshot()
	require.Contains(t, snap.Channels, "C2")
	assert.True(t, snap.Channels["C2"].Provisional)
	assert.False(t, snap.Channels["C1"].Provisional)
}

func TestReplaceKeepsCurrentDMPeer(t *testing.T) {
	c := NewCache("T1")
	c.Replace(
		[]models.Channel{{ID: "D1", Name: "@boz", Kind: models.ChannelDM, PeerUserID: "U1"}},
		[]models.User{{ID: "U1", Name: "boz"}},
		"")

	c.Replace(nil, nil, "D1")

	snap := c.Snapshot()
	require.Contains(t, snap.Channels, "D1")
	require.Contains(t, snap.Users, "U1")
	assert.True(t, snap.Channels["D1"].Provisional)
	assert.True(t, snap.Users["U1"].Provisional)
}

func TestConcurrentReplaceAndApply(t *testing.T) {
	// A reload and an event-driven apply race from different goroutines.
	// Whatever the interleaving, the reload's channels must survive: an
	// apply must never republish a clone of the pre-reload snapshot.
	for i := 0; i < 500; i++ {
		c := NewCache("T1")
		c.Replace([]models.Channel{{ID: "C0", Name: "stale"}},
			[]models.User{{ID: "U1", Name: "boz"}}, "")

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			c.Replace([]models.Channel{{ID: "C1", Name: "general"}},
				[]models.User{{ID: "U1", Name: "boz"}}, "")
		}()
		go func() {
			defer wg.Done()
			<-start
			c.ApplyUser(models.User{ID: "U9", Name: "rex", Provisional: true})
		}()
		close(start)
		wg.Wait()

		snap := c.Snapshot()
		require.Contains(t, snap.Channels, "C1", "reloaded channel lost on iteration %d", i)
		require.NotContains(t, snap.Channels, "C0", "stale channel resurrected on iteration %d", i)
		// The reverse index must agree with whichever merge won.
		for id, ch := range snap.Channels {
			assert.Equal(t, id, snap.ChannelIDByName[ch.Name])
		}
	}
}

func TestApplyChannelNeverDemotes(t *testing.T) {
	c := NewCache("T1")
	c.Replace([]models.Channel{{ID: "C1", Name: "general"}}, nil, "")

	c.ApplyChannel(models.Channel{ID: "C1", Name: "general", Provisional: true})

	assert.False(t, c.Snapshot().Channels["C1"].Provisional)
}

func TestApplyUserPreservesDMLink(t *testing.T) {
	c := NewCache("T1")
	c.Replace(nil, []models.User{{ID: "U1", Name: "boz", DMChannelID: "D1"}}, "")

	c.ApplyUser(models.User{ID: "U1", Name: "bozwell"})

	u := c.Snapshot().Users["U1"]
	assert.Equal(t, "bozwell", u.Name)
	assert.Equal(t, "D1", u.DMChannelID)
}

func TestSnapshotIsImmutable(t *testing.T) {
	c := NewCache("T1")
	c.Replace([]models.Channel{{ID: "C1", Name: "general"}}, nil, "")

	held := c.Snapshot()
	c.ApplyChannel(models.Channel{ID: "C2", Name: "random", Provisional: true})

	// The snapshot taken before the change must not see it.
	assert.Len(t, held.Channels, 1)
	assert.Len(t, c.Snapshot().Channels, 2)
}

func TestReverseIndexesAgree(t *testing.T) {
	c := NewCache("T1")
	c.Replace(
		[]models.Channel{{ID: "C1", Name: "General"}},
		[]models.User{{ID: "U1", Name: "Boz"}},
		"")

	snap := c.Snapshot()
	assert.Equal(t, "C1", snap.ChannelIDByName["general"])
	assert.Equal(t, "U1", snap.UserIDByName["boz"])
}

func TestChannelsSortedMembersFirst(t *testing.T) {
	c := NewCache("T1")
	c.Replace([]models.Channel{
		{ID: "C1", Name: "zoo", Member: true},
		{ID: "C2", Name: "aardvark", Member: false},
		{ID: "C3", Name: "birds", Member: true},
		{ID: "D1", Name: "@boz", Kind: models.ChannelDM, PeerUserID: "U1", Member: true},
	}, nil, "")

	ls := c.Snapshot().ChannelsSorted()
	require.Len(t, ls, 3) // DMs excluded
	assert.Equal(t, "birds", ls[0].Name)
	assert.Equal(t, "zoo", ls[1].Name)
	assert.Equal(t, "aardvark", ls[2].Name)
}
