package stream

// Handler receives connection events. All methods are called from the
// manager's event loop, one at a time and never after Stop returns. Handlers
// must not call Start or Stop synchronously.
type Handler interface {
	OnOpen()
	OnMessage(raw string)
	OnError(err error)
	OnClose()
}

// HandlerFuncs adapts optional functions to Handler.
type HandlerFuncs struct {
	Open    func()
	Message func(raw string)
	Error   func(err error)
	Close   func()
}

// OnOpen implements Handler.
func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(raw string) {
	if h.Message != nil {
		h.Message(raw)
	}
}

// OnError implements Handler.
func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// OnClose implements Handler.
func (h HandlerFuncs) OnClose() {
	if h.Close != nil {
		h.Close()
	}
}
