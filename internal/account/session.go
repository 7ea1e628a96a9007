package account

// Session is what screens check before letting a user reach the scanner or the ledger
type Session interface {
	IsLoggedIn() bool
	CurrentUsername() string
}

// UserSession is a session for a known (or anonymous) user
type UserSession struct {
	Username string
}

// IsLoggedIn reports whether a username is attached
func (s UserSession) IsLoggedIn() bool {
	return s.Username != ""
}

// CurrentUsername returns the username, or "" when logged out
func (s UserSession) CurrentUsername() string {
	return s.Username
}

// Anonymous is the logged-out session
var Anonymous Session = UserSession{}
