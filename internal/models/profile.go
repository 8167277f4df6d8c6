package models

// Profile is the singleton user profile.
type Profile struct {
	DisplayName  string  `json:"displayName"`
	Age          string  `json:"age"`
	Bio          string  `json:"bio"`
	Avatar       string  `json:"avatar"`
	ProfileImage *string `json:"profileImage"`
	IsAnonymous  bool    `json:"isAnonymous"`
	Synced       bool    `json:"synced"`
}

// User is the locally stored session user.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	IsAnonymous bool   `json:"isAnonymous"`
}
