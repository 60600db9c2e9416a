package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOfferAndCreateAnswer handles a client-initiated negotiation.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer completes a server-initiated renegotiation.
	ApplyAnswer(webrtc.SessionDescription) error
	// Renegotiate produces a new offer through the OnOffer callback, now or
	// once the pending negotiation completes.
	Renegotiate()
	// OnOffer sets a callback for server-initiated offers.
	OnOffer(func(webrtc.SessionDescription))
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	RemoveLocalTrack(sender *webrtc.RTPSender) error
	// OnData sets a callback for messages on client-created data channels.
	OnData(func(label string, payload []byte))
	// SendData writes to the named data channel, ErrBackpressure when its
	// buffer is above the drop threshold.
	SendData(label string, payload []byte) error
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
