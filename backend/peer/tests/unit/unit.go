package unit

import (
	"Co-Edit/backend/peer"
	"Co-Edit/backend/peer/impl"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/transport/channel"
)

var peerFac peer.Factory = impl.NewPeer

var channelFac transport.Factory = channel.NewTransport
