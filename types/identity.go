package types

// Identity is the authenticated user bound to a connection. It is a snapshot taken at handshake time and never
// changes for the lifetime of the connection.
type Identity struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}

// PublicIdentity is what other clients get to see about a user (sender of a message, caller of a call, ...).
type PublicIdentity struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}

func (i *Identity) Public() *PublicIdentity {
	if i == nil {
		return nil
	}
	return &PublicIdentity{
		Id:       i.Id,
		Username: i.Username,
		Email:    i.Email,
		Avatar:   i.Avatar,
	}
}
