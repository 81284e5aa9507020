package spectate

import (
	"encoding/json"
	"fmt"
)

// gsiPayload is the subset of a CS2 Game State Integration push we read.
type gsiPayload struct {
	Player *struct {
		SteamID    string `json:"steamid"`
		Activity   string `json:"activity"`
		SpecTarget string `json:"spectarget"`
	} `json:"player"`
	AllPlayers map[string]struct {
		Name string `json:"name"`
	} `json:"allplayers"`
	Auth *struct {
		Token string `json:"token"`
	} `json:"auth"`
}

// Feed is one decoded external feed push.
type Feed struct {
	// Observed is the external id currently spectated, empty for nobody.
	Observed string
	// Roster maps external id to the name the feed knows it by.
	Roster map[string]string
	Token  string
}

// ParseGSI decodes a GSI payload. A spectate target is only reported while the
// observing client is in a match ("playing") and identifies itself.
func ParseGSI(data []byte) (Feed, error) {
	var p gsiPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Feed{}, fmt.Errorf("decode gsi payload: %w", err)
	}

	f := Feed{Roster: make(map[string]string, len(p.AllPlayers))}
	if p.Player != nil && p.Player.SteamID != "" && p.Player.Activity == "playing" {
		f.Observed = p.Player.SpecTarget
	}
	for id, pl := range p.AllPlayers {
		if pl.Name != "" {
			f.Roster[id] = pl.Name
		}
	}
	if p.Auth != nil {
		f.Token = p.Auth.Token
	}
	return f, nil
}
