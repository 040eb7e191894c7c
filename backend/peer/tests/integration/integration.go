package integration

import (
	"Co-Edit/backend/peer"
	"Co-Edit/backend/peer/impl"
)

var studentFac peer.Factory = impl.NewPeer
