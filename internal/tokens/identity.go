package tokens

// Capability is a set of privileges carried by an Identity.
type Capability uint8

const (
	CapModerator Capability = 1 << iota
)

// Identity is what a valid access token proves about its bearer.
type Identity struct {
	Username    string `json:"username"`
	IsModerator bool   `json:"isModerator"`
}

func (i Identity) Capabilities() Capability {
	var c Capability
	if i.IsModerator {
		c |= CapModerator
	}
	return c
}

// Has reports whether every bit of required is held. An empty requirement is never satisfied.
func (i Identity) Has(required Capability) bool {
	return required != 0 && i.Capabilities()&required == required
}
