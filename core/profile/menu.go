package profile

// MenuItem is an entry of the role-gated navigation.
type MenuItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var (
	dashboardItem = MenuItem{ID: "dashboard", Name: "Home"}

	roleMenus = map[string][]MenuItem{
		RoleStudent: {
			{ID: "courses", Name: "Courses"},
			{ID: "assignments", Name: "Assignments"},
			{ID: "submissions", Name: "Submitted"},
		},
		RoleTeacher: {
			{ID: "courses", Name: "Courses"},
			{ID: "assignments", Name: "Assignments"},
			{ID: "submissions", Name: "Grading"},
			{ID: "students", Name: "Students"},
			{ID: "analytics", Name: "Analytics"},
		},
		RoleAdmin: {
			{ID: "courses", Name: "Courses"},
			{ID: "users", Name: "Users"},
			{ID: "assignments", Name: "Assignments"},
			{ID: "analytics", Name: "Analytics"},
			{ID: "settings", Name: "Settings"},
		},
	}

	roleNames = map[string]string{
		RoleAdmin:   "Administrator",
		RoleTeacher: "Teacher",
		RoleStudent: "Student",
	}
)

// MenuFor returns the navigation of a role. Unknown roles only get the dashboard.
func MenuFor(role string) []MenuItem {
	items := []MenuItem{dashboardItem}
	return append(items, roleMenus[role]...)
}

// RoleName returns the display name of a role, or the role itself when unknown.
func RoleName(role string) string {
	if name, ok := roleNames[role]; ok {
		return name
	}
	return role
}
