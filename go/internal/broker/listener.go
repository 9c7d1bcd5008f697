package broker

// Listener receives connection lifecycle notifications. Calls are made
// without the broker's lock held, one at a time.
//
// The first notification of a session is always Paired. No Disconnected is
// sent for the idle state before Establish; it only follows a failed dial,
// the peer leaving, the relay dropping, or Teardown while not already
// disconnected.
type Listener interface {
	// Paired fires as soon as the pair code is known, before the transport
	// connects, so it can be shown to the operator.
	Paired(code string)
	Connected()
	// Disconnected fires on every drop. The broker does not reconnect.
	Disconnected()
}

// ListenerFuncs adapts plain funcs to Listener. Nil funcs are skipped.
type ListenerFuncs struct {
	OnPaired       func(code string)
	OnConnected    func()
	OnDisconnected func()
}

func (l ListenerFuncs) Paired(code string) {
	if l.OnPaired != nil {
		l.OnPaired(code)
	}
}

func (l ListenerFuncs) Connected() {
	if l.OnConnected != nil {
		l.OnConnected()
	}
}

func (l ListenerFuncs) Disconnected() {
	if l.OnDisconnected != nil {
		l.OnDisconnected()
	}
}

type nopListener struct{}

func (nopListener) Paired(string) {}
func (nopListener) Connected()    {}
func (nopListener) Disconnected() {}
