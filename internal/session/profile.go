package session

import (
	"encoding/json"
	"maps"
	"slices"
)

// Profile is the user data the backend returns alongside tokens.
// Permissions are extracted; every other field is kept as raw JSON.
type Profile struct {
	Permissions []string
	Attributes  map[string]json.RawMessage
}

// reservedFields are token fields that never end up in a profile.
var reservedFields = []string{"access", "refresh"}

// ProfileFromFields builds a Profile from a decoded response object.
// Returns nil when the response carries no profile data.
func ProfileFromFields(fields map[string]json.RawMessage) *Profile {
	var p Profile
	for key, raw := range fields {
		if slices.Contains(reservedFields, key) {
			continue
		}
		if key == "permissions" {
			var perms []string
			if err := json.Unmarshal(raw, &perms); err == nil {
				p.Permissions = perms
				continue
			}
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]json.RawMessage)
		}
		p.Attributes[key] = raw
	}
	if p.Permissions == nil && p.Attributes == nil {
		return nil
	}
	return &p
}

func (p Profile) clone() Profile {
	return Profile{
		Permissions: slices.Clone(p.Permissions),
		Attributes:  maps.Clone(p.Attributes),
	}
}
