package types

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// EnqueueResponse carries either the queued ticket or the match it was paired into.
type EnqueueResponse struct {
	Queued bool `json:"queued"`
	Ticket any  `json:"ticket,omitempty"`
	Match  any  `json:"match,omitempty"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type OnlineResponse struct {
	Count      int      `json:"count"`
	Identities []string `json:"identities"`
}

type NotifyResponse struct {
	Delivered int `json:"delivered"`
}

// WarResponse is a war together with its per-player contributions.
type WarResponse struct {
	War           any `json:"war"`
	Contributions any `json:"contributions"`
}
