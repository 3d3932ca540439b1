package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Operation layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrNoCharacter    = "E_NO_CHARACTER"
	ErrTokenExpired   = "E_TOKEN_EXPIRED"
	ErrTokenForbidden = "E_TOKEN_FORBIDDEN"
	ErrCommitFailed   = "E_COMMIT_FAILED"
	ErrInternal       = "E_INTERNAL"

	// Requirement shortfalls (mirrored from the validator so the
	// front-end can localize each case).
	ErrQtyBounds     = "E_QTY_BOUNDS"
	ErrNoBuilding    = "E_NO_BUILDING"
	ErrNoProficiency = "E_NO_PROFICIENCY"
	ErrNoMaterials   = "E_NO_MATERIALS"
	ErrNoFunds       = "E_NO_FUNDS"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoCharacter:     {},
	ErrTokenExpired:    {},
	ErrTokenForbidden:  {},
	ErrCommitFailed:    {},
	ErrInternal:        {},
	ErrQtyBounds:       {},
	ErrNoBuilding:      {},
	ErrNoProficiency:   {},
	ErrNoMaterials:     {},
	ErrNoFunds:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
