package records

import (
	"github.com/goccy/go-json"
)

const unknownHolderName = "another user"

// Identity is a user as the server reports it: an id plus a display name.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"username"`
}

// Same reports whether two identities denote the same user. Ids are
// compared as strings; names are only consulted when an id is missing.
func (i Identity) Same(other Identity) bool {
	if i.ID != "" && other.ID != "" {
		return i.ID == other.ID
	}
	return i.Name != "" && i.Name == other.Name
}

// IsZero reports whether the identity carries no information.
func (i Identity) IsZero() bool {
	return i.ID == "" && i.Name == ""
}

// UnmarshalJSON accepts numeric or string ids and either "username" or "name".
func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       any    `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.ID = FormatID(raw.ID)
	i.Name = raw.Username
	if i.Name == "" {
		i.Name = raw.Name
	}
	return nil
}

// Holder is the owner of a lock as far as the client knows. Known is the
// discriminant: a holder may be reported without any identifying detail.
type Holder struct {
	Known    bool
	Identity Identity
}

// UnknownHolder returns a holder with no identity.
func UnknownHolder() Holder {
	return Holder{}
}

// KnownHolder returns a holder for the given identity.
func KnownHolder(id Identity) Holder {
	return Holder{Known: !id.IsZero(), Identity: id}
}

// DisplayName returns the name to show to a user.
func (h Holder) DisplayName() string {
	if !h.Known {
		return unknownHolderName
	}
	if h.Identity.Name != "" {
		return h.Identity.Name
	}
	if h.Identity.ID != "" {
		return h.Identity.ID
	}
	return unknownHolderName
}

// Is reports whether the holder is known to be the given identity.
func (h Holder) Is(id Identity) bool {
	return h.Known && h.Identity.Same(id)
}

// UnmarshalJSON decodes the wire "lockedBy" value; null yields an unknown holder.
func (h *Holder) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*h = UnknownHolder()
		return nil
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*h = KnownHolder(id)
	return nil
}

// MarshalJSON encodes the holder as the wire "lockedBy" value.
func (h Holder) MarshalJSON() ([]byte, error) {
	if !h.Known {
		return []byte("null"), nil
	}
	return json.Marshal(h.Identity)
}
