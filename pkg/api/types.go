package api

// Wire contract shared by the coordinator and its clients.

const (
	// SessionHeader carries the client's session id on every request.
	SessionHeader = "Bloc-Session-ID"

	IndexPath   = "/index"
	SessionPath = "/session"
)

type Status string

const (
	StatusSettling Status = "SETTLING"
	StatusSettled  Status = "SETTLED"
)

// IndexResponse is the body of GET /index. Index and Total are only present
// when Status is SETTLED.
type IndexResponse struct {
	Status Status `json:"status"`
	Index  *int   `json:"index,omitempty"`
	Total  *int   `json:"total,omitempty"`
}

func Settling() IndexResponse {
	return IndexResponse{Status: StatusSettling}
}

func Settled(index, total int) IndexResponse {
	return IndexResponse{Status: StatusSettled, Index: &index, Total: &total}
}

// SessionResponse is the (empty) body of DELETE /session.
type SessionResponse struct{}

type ErrorResponse struct {
	Error string `json:"error"`
}

// InfoResponse is served at /info.
type InfoResponse struct {
	PID     int      `json:"pid"`
	Now     string   `json:"now"`
	Members []string `json:"members"`
	Tracked int      `json:"tracked"`
	Settled bool     `json:"settled"`
}
