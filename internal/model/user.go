// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account and its progression.
//
// XPToNextLevel is derived from Level by the configured curve; stores never
// persist it. The service fills it in before a user leaves the service layer.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Level         int       `json:"level"`
	XP            int       `json:"xp"`
	XPToNextLevel int       `json:"xpToNextLevel"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Progress returns the progression fields of the user.
func (u *User) Progress() Progress {
	return Progress{Level: u.Level, XP: u.XP, XPToNextLevel: u.XPToNextLevel}
}

// Progress is the slice of a user returned alongside task mutations.
type Progress struct {
	Level         int `json:"level"`
	XP            int `json:"xp"`
	XPToNextLevel int `json:"xpToNextLevel"`
}

// LeaderboardEntry is one public row of the leaderboard.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Level    int    `json:"level"`
	XP       int    `json:"xp"`
}
