package main

import (
	"github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"
)

// stubTransport, stubNetDB, and stubDestination satisfy the tunnel
// package's external collaborator interfaces so `gotunneld run` can start
// the engine without a real router attached (spec.md §1 scopes
// transport/netdb/destination out of this module). stubTransport reports
// every message as dropped through its onDrop callback, stubNetDB never
// returns a peer, and stubDestination accepts everything and seals nothing.

type stubTransport struct{}

func (stubTransport) SendMessage(identHash data.Hash, msg []byte, onDrop func()) error {
	if onDrop != nil {
		onDrop()
	}
	return nil
}

type stubNetDB struct{}

func (stubNetDB) GetRandomRouter(exclude []data.Hash, reachable bool) (router_info.RouterInfo, error) {
	return router_info.RouterInfo{}, errNoStubPeers
}

func (stubNetDB) UpdateRouterProfile(hash data.Hash, accepted bool, retCode uint8) {}

type stubDestination struct{}

func (stubDestination) SubmitECIESx25519Key(key [32]byte, tag uint32) {}
func (stubDestination) SetLeaseSetUpdated(updated bool)               {}
func (stubDestination) ReceiveTunnelMessage(payload []byte) error     { return nil }

func (stubDestination) SealOneTimeEnvelope(payload []byte, firstHop data.Hash) ([]byte, error) {
	return payload, nil
}

var errNoStubPeers = stubError("no peers available: gotunneld's stub netdb never returns any")

type stubError string

func (e stubError) Error() string { return string(e) }
