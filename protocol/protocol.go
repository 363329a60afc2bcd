// Package protocol defines constants shared by the gateway and the front
// ends that talk to it.
package protocol

const (
	// Version indicates an incompatible change to the gateway's JSON API.
	// A front end that sees a number other than the one it was built
	// against should reload.
	Version = 1

	// Header carries Version on every gateway response.
	Header = "X-Hearth-Protocol"
)
