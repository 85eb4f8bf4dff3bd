package role

const (
	PermModulesCreate    = "modules:create"
	PermModulesUpdate    = "modules:update"
	PermModulesDelete    = "modules:delete"
	PermModulesDeleteAny = "modules:delete-any"
	PermModulesApprove   = "modules:approve"
	PermModulesModerate  = "modules:moderate"

	PermSubjectsCreate    = "subjects:create"
	PermSubjectsUpdate    = "subjects:update"
	PermSubjectsDelete    = "subjects:delete"
	PermChaptersCreate    = "chapters:create"
	PermChaptersUpdate    = "chapters:update"
	PermChaptersDelete    = "chapters:delete"
	PermSubchaptersCreate = "subchapters:create"
	PermSubchaptersUpdate = "subchapters:update"
	PermSubchaptersDelete = "subchapters:delete"

	PermRatingsCreate   = "ratings:create"
	PermRatingsModerate = "ratings:moderate"

	PermUsersManage = "users:manage"
	PermUsersDelete = "users:delete"
	PermRolesAssign = "roles:assign"
	PermRolesManage = "roles:manage"
)

const (
	RoleAdmin       = "admin"
	RoleModerator   = "moderator"
	RoleContributor = "contributor"
	RoleViewer      = "viewer"
)

// ElevatedRoles bypass ownership checks and see non-approved modules.
var ElevatedRoles = []string{RoleAdmin, RoleModerator}

var catalog = map[string]string{
	PermModulesCreate:     "Upload new learning modules",
	PermModulesUpdate:     "Edit module metadata",
	PermModulesDelete:     "Delete modules",
	PermModulesDeleteAny:  "Delete modules uploaded by anyone",
	PermModulesApprove:    "Approve or reject pending modules",
	PermModulesModerate:   "Hide modules and read moderation logs",
	PermSubjectsCreate:    "Create subjects",
	PermSubjectsUpdate:    "Update subjects",
	PermSubjectsDelete:    "Delete subjects",
	PermChaptersCreate:    "Create chapters",
	PermChaptersUpdate:    "Update chapters",
	PermChaptersDelete:    "Delete chapters",
	PermSubchaptersCreate: "Create subchapters",
	PermSubchaptersUpdate: "Update subchapters",
	PermSubchaptersDelete: "Delete subchapters",
	PermRatingsCreate:     "Rate modules",
	PermRatingsModerate:   "Edit or delete any rating",
	PermUsersManage:       "List and manage users",
	PermUsersDelete:       "Delete users",
	PermRolesAssign:       "Assign and revoke roles",
	PermRolesManage:       "Read role change audit logs",
}

// BuiltinRole is a seedable role definition.
type BuiltinRole struct {
	Name        string
	Description string
	Level       int
	Permissions []string
}

var BuiltinRoles = []BuiltinRole{
	{
		Name:        RoleAdmin,
		Description: "Full access",
		Level:       1,
		Permissions: AllPermissions(),
	},
	{
		Name:        RoleModerator,
		Description: "Reviews and moderates submitted modules",
		Level:       2,
		Permissions: []string{
			PermModulesCreate, PermModulesUpdate, PermModulesDelete, PermModulesDeleteAny,
			PermModulesApprove, PermModulesModerate, PermRatingsCreate, PermRatingsModerate,
			PermUsersManage,
		},
	},
	{
		Name:        RoleContributor,
		Description: "Uploads learning modules",
		Level:       3,
		Permissions: []string{PermModulesCreate, PermModulesUpdate, PermModulesDelete, PermRatingsCreate},
	},
	{
		Name:        RoleViewer,
		Description: "Browses and rates approved modules",
		Level:       4,
		Permissions: []string{PermRatingsCreate},
	},
}

func IsKnownPermission(name string) bool {
	_, ok := catalog[name]
	return ok
}

func PermissionDescription(name string) string {
	return catalog[name]
}

func AllPermissions() []string {
	out := make(map[string]struct{}, len(catalog))
	for name := range catalog {
		out[name] = struct{}{}
	}
	return sortedKeys(out)
}

func IsElevated(roles []string) bool {
	for _, r := range roles {
		for _, e := range ElevatedRoles {
			if r == e {
				return true
			}
		}
	}
	return false
}
