// Package streamer implements the streaming protocol framework built on
// the reactor package: a transport-level StreamHandler (socket + buffers +
// lifecycle) and a user-level StreamProtocol (parse/dispatch), with
// reconnecting-client and accepting-server variants.
package streamer

import "github.com/ggplib/k273/bytebuffer"

// StreamProtocol is the user-level parse/dispatch layer invoked by a
// StreamHandler. Most protocols implement DataReceived as one line calling
// DefaultDataReceived (flip the inbound buffer, dispatch to OnBuffer,
// compact whatever OnBuffer left unread); a protocol with an unusual
// framing scheme may implement DataReceived directly instead.
type StreamProtocol interface {
	DataReceived(inbuf *bytebuffer.ByteBuffer)
	OnBuffer(inbuf *bytebuffer.ByteBuffer)
	ConnectionMade(h *StreamHandler)
	ConnectionLost(h *StreamHandler, err error)
	Repr() string
}

// DefaultDataReceived is the standard DataReceived body: flip the buffer
// into read mode over the bytes just appended, dispatch to p.OnBuffer, then
// compact whatever remains unread for the next read. p is passed
// explicitly (rather than relying on struct embedding) so OnBuffer
// dispatches to the concrete protocol's override, which Go's embedding
// cannot do on its own.
func DefaultDataReceived(p StreamProtocol, inbuf *bytebuffer.ByteBuffer) {
	inbuf.Flip()
	p.OnBuffer(inbuf)
	inbuf.Compact()
}

// BaseProtocol supplies no-op lifecycle hooks; embed it and override
// OnBuffer, ConnectionMade and ConnectionLost as needed. It deliberately
// does not implement DataReceived — embed it and add:
//
//	func (p *MyProtocol) DataReceived(inbuf *bytebuffer.ByteBuffer) {
//		streamer.DefaultDataReceived(p, inbuf)
//	}
type BaseProtocol struct{}

func (p *BaseProtocol) OnBuffer(*bytebuffer.ByteBuffer)      {}
func (p *BaseProtocol) ConnectionMade(*StreamHandler)        {}
func (p *BaseProtocol) ConnectionLost(*StreamHandler, error) {}
func (p *BaseProtocol) Repr() string                         { return "BaseProtocol" }
