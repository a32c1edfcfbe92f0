package models

// Voice is an entry of the synthesis voice catalog.
type Voice struct {
	Label string `json:"label"`
	Code  string `json:"code"`
}
