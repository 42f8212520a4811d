package file

// Principal is the authenticated caller: an opaque id plus a role, both
// issued by the identity service.
type Principal struct {
	ID   string
	Role string
}

// Action names an operation evaluated against a record's access policy.
type Action string

// Actions checked through CanAccess.
const (
	ActionDownload  Action = "download"
	ActionThumbnail Action = "thumbnail"
	ActionDelete    Action = "delete"
)

// IsElevated reports whether the principal's role bypasses per-record policy.
func (p Principal) IsElevated() bool {
	return p.Role == RoleAdmin || p.Role == RoleStaff
}

// CanAccess decides whether a principal may perform an action on a record.
// It is a pure function used identically by download, thumbnail and delete;
// listing instead narrows the query itself. First true wins:
//
//  1. owner
//  2. admin or staff
//  3. public record, download only
//  4. role in allowedRoles
//  5. id in allowedUsers
func CanAccess(p Principal, rec *Record, action Action) bool {
	if p.ID != "" && p.ID == rec.UploadedBy {
		return true
	}
	if p.IsElevated() {
		return true
	}
	if action == ActionDownload && rec.IsPublic {
		return true
	}
	for _, role := range rec.AllowedRoles {
		if p.Role == role {
			return true
		}
	}
	for _, id := range rec.AllowedUsers {
		if p.ID == id {
			return true
		}
	}
	return false
}
