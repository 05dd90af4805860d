package authz

// Screen names used by the console.
const (
	ScreenBooks     = "books"
	ScreenAuthors   = "authors"
	ScreenStores    = "stores"
	ScreenInventory = "inventory"

	RouteLogin    = "login"
	// RouteAddEntry is the add-to-inventory picker.
	RouteAddEntry = "inventory-add"
)

func column(id string) Surface { return Surface{ID: id, Kind: KindColumn, Access: AccessPublic} }

var (
	actionsColumn = Surface{ID: "actions", Kind: KindColumn, Access: AccessAuthenticated}
	addAction     = Surface{ID: "add", Kind: KindAction, Access: AccessAuthenticated}
	editAction    = Surface{ID: "edit", Kind: KindAction, Access: AccessAuthenticated}
	deleteAction  = Surface{ID: "delete", Kind: KindAction, Access: AccessAuthenticated}
	logoutAction  = Surface{ID: "logout", Kind: KindAction, Access: AccessAuthenticated}
	loginAction   = Surface{ID: "login", Kind: KindAction, Access: AccessGuest}
)

var screens = map[string][]Surface{
	ScreenBooks: {
		column("id"), column("name"), column("author"), column("pages"),
		actionsColumn, addAction, editAction, deleteAction,
	},
	ScreenAuthors: {
		column("id"), column("firstName"), column("lastName"),
		actionsColumn, addAction, editAction, deleteAction,
	},
	ScreenStores: {
		column("id"), column("name"), column("address"),
		actionsColumn, addAction, editAction, deleteAction,
	},
	ScreenInventory: {
		column("bookId"), column("name"), column("author"), column("pages"), column("price"),
		actionsColumn, addAction, editAction, deleteAction,
	},
}

var routes = map[string]Surface{
	RouteLogin:      {ID: RouteLogin, Kind: KindRoute, Access: AccessGuest},
	ScreenBooks:     {ID: ScreenBooks, Kind: KindRoute, Access: AccessPublic},
	ScreenAuthors:   {ID: ScreenAuthors, Kind: KindRoute, Access: AccessPublic},
	ScreenStores:    {ID: ScreenStores, Kind: KindRoute, Access: AccessPublic},
	ScreenInventory: {ID: ScreenInventory, Kind: KindRoute, Access: AccessPublic},
	RouteAddEntry:   {ID: RouteAddEntry, Kind: KindRoute, Access: AccessAuthenticated},
}

// ScreenSurfaces returns a copy of the surfaces of a screen.
func ScreenSurfaces(screen string) ([]Surface, bool) {
	s, ok := screens[screen]
	if !ok {
		return nil, false
	}
	return append([]Surface(nil), s...), true
}

// ShellSurfaces are the session controls of the top bar.
func ShellSurfaces() []Surface {
	return []Surface{loginAction, logoutAction}
}

// KnownRoute reports whether name is a navigable route.
func KnownRoute(name string) bool {
	_, ok := routes[name]
	return ok
}
