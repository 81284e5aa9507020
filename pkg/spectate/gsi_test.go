package spectate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGSI(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		observed string
		roster   map[string]string
		token    string
	}{
		{
			name: "spectating while playing",
			payload: `{
				"player": {"steamid": "76561198999999999", "activity": "playing", "spectarget": "76561198000000001"},
				"allplayers": {"76561198000000001": {"name": "alice"}, "76561198000000002": {"name": "bob"}},
				"auth": {"token": "secret"}
			}`,
			observed: "76561198000000001",
			roster:   map[string]string{"76561198000000001": "alice", "76561198000000002": "bob"},
			token:    "secret",
		},
		{
			name:     "menu activity reports nobody",
			payload:  `{"player": {"steamid": "1", "activity": "menu", "spectarget": "2"}}`,
			observed: "",
			roster:   map[string]string{},
		},
		{
			name:     "missing steamid reports nobody",
			payload:  `{"player": {"activity": "playing", "spectarget": "2"}}`,
			observed: "",
			roster:   map[string]string{},
		},
		{
			name:     "unnamed players are skipped",
			payload:  `{"allplayers": {"3": {"name": ""}, "4": {"name": "dave"}}}`,
			observed: "",
			roster:   map[string]string{"4": "dave"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseGSI([]byte(tt.payload))
			require.NoError(t, err)
			require.Equal(t, tt.observed, f.Observed)
			require.Equal(t, tt.roster, f.Roster)
			require.Equal(t, tt.token, f.Token)
		})
	}
}

func TestParseGSI_malformed(t *testing.T) {
	_, err := ParseGSI([]byte(`{"player":`))
	require.Error(t, err)
}
