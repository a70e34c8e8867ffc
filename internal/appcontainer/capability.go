package appcontainer

// Well-known capability SIDs.
const (
	InternetClientSID = "S-1-15-3-1"
	PrivateNetworkSID = "S-1-15-3-3"
)

// Capabilities is the allow-list attached to a sandboxed process token.
type Capabilities struct {
	AllowNetwork bool
}

// SIDs returns the capability SIDs the token will carry, in attach order.
// Without network access the token carries none.
func (c Capabilities) SIDs() []string {
	if !c.AllowNetwork {
		return nil
	}
	return []string{InternetClientSID, PrivateNetworkSID}
}
