package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	GuildID         string `json:"guild_id"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	PlayerID        string            `json:"player_id"`
	GuildID         string            `json:"guild_id"`
	CatalogDigests  map[string]string `json:"catalog_digests,omitempty"`
}

// EXECUTE (client -> server): run one named operation.
type ExecuteMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`

	Op        string `json:"op"`
	TargetRef string `json:"target_ref,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`

	// pay only.
	Amount     string   `json:"amount,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

// CONFIRM (client -> server): redeem a suggestion token.
type ConfirmMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	TokenID         string `json:"token_id"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status"` // OK | SHORTFALL | PENDING | ERROR

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
	// Offending player for E_NO_CHARACTER on multi-target operations.
	PlayerID string `json:"player_id,omitempty"`

	Deficit map[string]int `json:"deficit,omitempty"`

	Suggestion *SuggestionRef `json:"suggestion,omitempty"`

	EntryID   string `json:"entry_id,omitempty"`
	EntryName string `json:"entry_name,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Deferred  bool   `json:"deferred,omitempty"`
	DueAt     string `json:"due_at,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

type SuggestionRef struct {
	TokenID   string `json:"token_id"`
	Name      string `json:"name"`
	ExpiresAt string `json:"expires_at"`
}
