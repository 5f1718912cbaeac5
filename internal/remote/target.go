package remote

// Target identifies how to reach one instance. It carries no lifecycle of its
// own and is recomputed per call from the instance snapshot plus fleet
// credentials.
type Target struct {
	User    string
	Host    string
	KeyPath string
}

// Addr returns the user@host form used in logs and rsync specs.
func (t Target) Addr() string {
	return t.User + "@" + t.Host
}
