package reactor

// EventHandler is the callback surface dispatched by the Scheduler for a
// registered SelectionKey. Only the methods corresponding to a handler's
// registered Ops are ever invoked in practice; BaseHandler supplies panicking
// defaults for the rest so a concrete type need only override what its
// capability set actually uses.
type EventHandler interface {
	DoRead(k *SelectionKey)
	DoWrite(k *SelectionKey)
	DoAccept(k *SelectionKey)
	DoConnect(k *SelectionKey)
	Repr() string
}

// BaseHandler implements EventHandler with defaults that panic, surfacing a
// mis-registered capability (e.g. OP_ACCEPT fired against a handler that
// never implements DoAccept) as the programming-invariant violation it is.
// Embed it and override only the methods your handler actually needs.
type BaseHandler struct{}

func (BaseHandler) DoRead(*SelectionKey)    { panic("reactor: DoRead not implemented") }
func (BaseHandler) DoWrite(*SelectionKey)   { panic("reactor: DoWrite not implemented") }
func (BaseHandler) DoAccept(*SelectionKey)  { panic("reactor: DoAccept not implemented") }
func (BaseHandler) DoConnect(*SelectionKey) { panic("reactor: DoConnect not implemented") }
func (BaseHandler) Repr() string            { return "BaseHandler" }
