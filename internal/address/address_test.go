package address

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/crosstalk/internal/directory"
	"github.com/lalith-99/crosstalk/internal/models"
)

// two teams with overlapping prefixes, the classic ambiguity setup
func testTeams(t *testing.T) []TeamRef {
	t.Helper()

	home := directory.NewCache("T1")
	home.Replace(
		[]models.Channel{
			{ID: "C1", Name: "general", Member: true},
			{ID: "C2", Name: "graphics", Member: true},
			{ID: "D1", Name: "@boz", Kind: models.ChannelDM, PeerUserID: "U1", Member: true},
		},
		[]models.User{
			{ID: "U1", Name: "boz", DMChannelID: "D1"},
			{ID: "U2", Name: "bozonian"},
		},
		"")

	space := directory.NewCache("T2")
	space.Replace(
		[]models.Channel{{ID: "C9", Name: "general", Member: true}},
		nil, "")

	return []TeamRef{
		{Key: "stream:T1", ID: "T1", Name: "zarfhome", Aliases: []string{"zh"},
			Snap: home.Snapshot(), LastChannelID: "C1"},
		{Key: "stream:T2", ID: "T2", Name: "zarfspace",
			Snap: space.Snapshot()},
	}
}

func TestResolveTable(t *testing.T) {
	teams := testTeams(t)
	cur := &Cursor{TeamKey: "stream:T1", ChannelID: "C1"}

	tests := []struct {
		name  string
		token string
		want  Target
	}{
		{"empty is current pair", "", Target{TeamKey: "stream:T1", ChannelID: "C1"}},
		{"full team and channel", "zarfhome/general", Target{TeamKey: "stream:T1", ChannelID: "C1"}},
		{"alias team", "zh/general", Target{TeamKey: "stream:T1", ChannelID: "C1"}},
		{"colon separator", "zh:graphics", Target{TeamKey: "stream:T1", ChannelID: "C2"}},
		{"team id exact", "T2/general", Target{TeamKey: "stream:T2", ChannelID: "C9"}},
		{"trailing slash means last channel", "zh/", Target{TeamKey: "stream:T1", ChannelID: "C1"}},
		{"channel prefix in current team", "gra", Target{TeamKey: "stream:T1", ChannelID: "C2"}},
		{"channel by raw id", "C2", Target{TeamKey: "stream:T1", ChannelID: "C2"}},
		{"dm by exact user", "@boz", Target{TeamKey: "stream:T1", ChannelID: "D1", UserID: "U1", DM: true}},
		{"dm by unique prefix", "@bozo", Target{TeamKey: "stream:T1", ChannelID: "", UserID: "U2", DM: true}},
		{"cross-team dm", "zh/@boz", Target{TeamKey: "stream:T1", ChannelID: "D1", UserID: "U1", DM: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.token, teams, cur)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestResolveExactBeatsPrefix(t *testing.T) {
	teams := testTeams(t)
	cur := &Cursor{TeamKey: "stream:T1", ChannelID: "C1"}

	// "boz" is both an exact user name and a prefix of "bozonian". The
	// exact match wins without complaint.
	got, err := Resolve("@boz", teams, cur)
	require.NoError(t, err)
	assert.Equal(t, "U1", got.UserID)
}

func TestResolveAmbiguous(t *testing.T) {
	teams := testTeams(t)
	cur := &Cursor{TeamKey: "stream:T1", ChannelID: "C1"}

	// "zarf" prefixes both team names.
	_, err := Resolve("zarf/general", teams, cur)
	var amb *AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "team", amb.What)
	assert.ElementsMatch(t, []string{"zarfhome", "zarfspace"}, amb.Candidates)

	// "g" prefixes two channels in zarfhome.
	_, err = Resolve("zh/g", teams, cur)
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "channel", amb.What)
}

func TestResolveNotFound(t *testing.T) {
	teams := testTeams(t)
	cur := &Cursor{TeamKey: "stream:T1", ChannelID: "C1"}

	var nf *NotFoundError
	_, err := Resolve("nosuch/general", teams, cur)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "team", nf.What)

	_, err = Resolve("zh/nosuch", teams, cur)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "channel", nf.What)

	_, err = Resolve("@nobody", teams, cur)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "user", nf.What)
}

func TestResolveNoCursor(t *testing.T) {
	teams := testTeams(t)

	_, err := Resolve("", teams, nil)
	assert.True(t, errors.Is(err, ErrNoCurrentTeam))

	_, err = Resolve("", teams, &Cursor{TeamKey: "stream:T1"})
	assert.True(t, errors.Is(err, ErrNoCurrentChannel))

	// A bare channel token needs a current team to search in.
	_, err = Resolve("general", teams, nil)
	assert.True(t, errors.Is(err, ErrNoCurrentTeam))
}

func TestResolveUnresolvedDM(t *testing.T) {
	teams := testTeams(t)
	cur := &Cursor{TeamKey: "stream:T1", ChannelID: "C1"}

	// bozonian has no DM channel yet: the target carries the user id and
	// reports itself unresolved.
	got, err := Resolve("@bozonian", teams, cur)
	require.NoError(t, err)
	assert.True(t, got.Unresolved())
	assert.Equal(t, "U2", got.UserID)
}

func TestMatchTeamDirect(t *testing.T) {
	teams := testTeams(t)

	ref, err := MatchTeam("zh", teams)
	require.NoError(t, err)
	assert.Equal(t, "stream:T1", ref.Key)

	_, err = MatchTeam("zar", teams)
	var amb *AmbiguousError
	assert.ErrorAs(t, err, &amb)
}
