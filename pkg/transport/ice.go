// Package transport implements negotiated media sessions on pion/webrtc: the
// viewer's receive-only sessions and the source's answering side.
package transport

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

// ICE servers for NAT traversal
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
}

// ICEConfig holds ICE server configuration
type ICEConfig struct {
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	DisableSTUN bool // host candidates only, for LAN setups
}

// Configuration builds the peer connection configuration.
func (c ICEConfig) Configuration() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0)

	if !c.ForceRelay && !c.DisableSTUN {
		iceServers = append(iceServers, defaultICEServers...)
	}

	if c.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs: []string{c.TURNServer},
		}
		if c.TURNUser != "" {
			turnServer.Username = c.TURNUser
			turnServer.Credential = c.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, turnServer)
	}

	policy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

func encodeCandidate(c *webrtc.ICECandidate) (string, error) {
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		return "", errors.Wrap(err, "encode ice candidate")
	}
	return string(data), nil
}

func decodeCandidate(s string) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return c, errors.Wrap(err, "parse ice candidate")
	}
	return c, nil
}

// connectionType checks if connection is direct or relayed
func connectionType(pc *webrtc.PeerConnection) string {
	stats := pc.GetStats()

	for _, stat := range stats {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		for _, s := range stats {
			local, ok := s.(webrtc.ICECandidateStats)
			if !ok || local.ID != pair.LocalCandidateID {
				continue
			}
			switch local.CandidateType {
			case webrtc.ICECandidateTypeRelay:
				return "relay"
			case webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeSrflx, webrtc.ICECandidateTypePrflx:
				return "direct"
			}
		}
	}
	return "unknown"
}
