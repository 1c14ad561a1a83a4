package models

type Account struct {
	ID             int64   `json:"account_id"`
	Email          string  `json:"email"`
	Name           string  `json:"account_name"`
	AppSecretToken string  `json:"app_secret_token"`
	Website        *string `json:"website"`
}
