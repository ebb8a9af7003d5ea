package endpoint

import "fmt"

// New constructs an Endpoint for simulation (deterministic, in-process) or
// live (real UDP socket) use. For simulation mode, newPeer must come from
// NewManualNetwork so peers created for the same test share a switchboard.
func New(simulation bool, newPeer func(Address) *Manual, addr Address) (Endpoint, error) {
	if simulation {
		if newPeer == nil {
			return nil, fmt.Errorf("endpoint: simulation mode requires a peer factory from NewManualNetwork")
		}
		return newPeer(addr), nil
	}
	return NewUDP(addr.Host, addr.Port)
}
