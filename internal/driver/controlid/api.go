package controlid

// Request and response bodies of the ControlID access API. Every endpoint
// takes JSON and a session token in the query string.

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Session string `json:"session"`
}

type userObject struct {
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name"`
	Registration string `json:"registration"`
}

type cardObject struct {
	ID     int64 `json:"id,omitempty"`
	Value  int64 `json:"value"`
	UserID int64 `json:"user_id"`
}

type loadRequest struct {
	Object string         `json:"object"`
	Where  map[string]any `json:"where,omitempty"`
}

type loadUsersResponse struct {
	Users []userObject `json:"users"`
}

type loadCardsResponse struct {
	Cards []cardObject `json:"cards"`
}

type createRequest struct {
	Object string `json:"object"`
	Values []any  `json:"values"`
}

type createResponse struct {
	IDs []int64 `json:"ids"`
}

type modifyRequest struct {
	Object string         `json:"object"`
	Values map[string]any `json:"values"`
	Where  map[string]any `json:"where"`
}

type destroyRequest struct {
	Object string         `json:"object"`
	Where  map[string]any `json:"where"`
}

type changesResponse struct {
	Changes int `json:"changes"`
}

// where builds the nested {"object": {"field": value}} filter the API uses.
func where(object, field string, value any) map[string]any {
	return map[string]any{object: map[string]any{field: value}}
}
