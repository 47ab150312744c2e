package domain

// SessionID names a room. It exists while at least one participant is joined.
type SessionID string

func (s SessionID) Validate() error {
	if len(s) == 0 {
		return ErrSessionIDEmpty
	}
	if len(s) > MaxSessionIDLen {
		return ErrSessionIDTooLong
	}
	return nil
}
