package types

// PresenceEntry is one online identity in a presence snapshot.
type PresenceEntry struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}

func NewPresenceEntry(identity *Identity) PresenceEntry {
	return PresenceEntry{
		Id:       identity.Id,
		Username: identity.Username,
		Email:    identity.Email,
		Avatar:   identity.Avatar,
	}
}
