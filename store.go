package session

// Keys of the durable credential record. Absence of every key means "no
// active session".
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyRole         = "role"
)

// Change describes a single key mutation in the credential record as seen
// by an observer. Old and New are empty when the key was absent.
type Change struct {
	Key string
	Old string
	New string
}

// Cleared reports whether the change removed the key.
func (c Change) Cleared() bool {
	return c.New == ""
}

func diffCredentials(old, next *Credentials) []Change {
	if old == nil {
		old = &Credentials{}
	}
	if next == nil {
		next = &Credentials{}
	}

	var changes []Change

	// role and refresh token first so observers reacting to the access
	// token see a fully settled record
	if old.Role != next.Role {
		changes = append(changes, Change{Key: KeyRole, Old: old.Role, New: next.Role})
	}
	if old.RefreshToken != next.RefreshToken {
		changes = append(changes, Change{Key: KeyRefreshToken, Old: old.RefreshToken, New: next.RefreshToken})
	}
	if old.AccessToken != next.AccessToken {
		changes = append(changes, Change{Key: KeyAccessToken, Old: old.AccessToken, New: next.AccessToken})
	}

	return changes
}

// sanitizeCredentials applies the record invariant: access token and role
// are written together, a lone half marks the record corrupt.
func sanitizeCredentials(creds *Credentials) (*Credentials, error) {
	if creds == nil {
		return &Credentials{}, nil
	}

	if creds.IsCorrupt() {
		return &Credentials{}, ErrCorruptRecord.Clone().WithMetadata(map[string]any{
			"has_access_token": creds.AccessToken != "",
			"has_role":         creds.Role != "",
		})
	}

	return creds, nil
}
