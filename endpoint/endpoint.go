// Package endpoint defines the transport contract the core sends and
// receives raw packets through, and provides two implementations: an
// in-memory Manual endpoint for deterministic tests, and a thin UDP
// endpoint for live deployment. Candidate/NAT bookkeeping and wire-level
// framing beyond a single packet are out of scope (spec §1).
package endpoint

import "fmt"

// Address identifies a peer endpoint. Its zero value is never a valid
// destination.
type Address struct {
	Host string
	Port int
}

// String renders the address in host:port form.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Packet is one inbound datagram: the packet bytes plus the address it
// arrived from.
type Packet struct {
	From    Address
	Payload []byte
}

// Endpoint is the transport contract the core depends on: fan-out send to
// one or more addresses, and an inbound stream of received packets.
type Endpoint interface {
	// Send delivers packet to every address in addrs. A partial failure
	// (some addresses unreachable) still attempts the rest and returns the
	// last error encountered.
	Send(addrs []Address, packet []byte) error
	// Inbound returns the channel of packets received from peers. Closed
	// when the endpoint is closed.
	Inbound() <-chan Packet
	// LocalAddress reports the address peers should use to reach this
	// endpoint.
	LocalAddress() Address
	// Close releases the endpoint's resources and closes Inbound.
	Close() error
}
