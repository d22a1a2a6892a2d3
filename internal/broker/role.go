package broker

/*
Role is one of the two mutually exclusive roles a connection may queue under.
A room always pairs one [Venter] with one [Listener].
*/
type Role int

const (
	Venter Role = iota
	Listener
)

/*
ParseRole converts the profile value received from the client into a Role.
Returns [ErrInvalidRole] for anything but "venter" and "listener".
*/
func ParseRole(profile string) (Role, error) {
	switch profile {
	case "venter":
		return Venter, nil
	case "listener":
		return Listener, nil
	}
	return 0, ErrInvalidRole
}

func (r Role) valid() bool {
	return r == Venter || r == Listener
}

// Opposite returns the role this role is matched against.
func (r Role) Opposite() Role {
	if r == Venter {
		return Listener
	}
	return Venter
}

func (r Role) String() string {
	if r == Venter {
		return "venter"
	}
	return "listener"
}
