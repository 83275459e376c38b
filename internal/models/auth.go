package models

// Auth is the credential pair sent with every server request
type Auth struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Key is the user's base64 encoded key pair
type Key struct {
	Private64 string `json:"private64"`
	Public64  string `json:"public64"`
}
