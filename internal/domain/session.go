package domain

import "time"

// Session is the presence record of one joined connection.
type Session struct {
	ConnectionID string
	UserID       string
	Username     string
	Room         string
	JoinedAt     time.Time
}

// OnlineUser is the public view of a session.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

func (s Session) OnlineUser() OnlineUser {
	return OnlineUser{UserID: s.UserID, Username: s.Username, Room: s.Room}
}

// OnlineUsers converts sessions to their public view, never returning nil.
func OnlineUsers(sessions []Session) []OnlineUser {
	users := make([]OnlineUser, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, s.OnlineUser())
	}
	return users
}
