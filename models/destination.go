package models

import (
	"errors"
	"strings"
)

// Destination is an outbound HTTP target owned by an account.
type Destination struct {
	ID         int64             `json:"destination_id"`
	AccountID  int64             `json:"account_id"`
	URL        string            `json:"url"`
	HTTPMethod string            `json:"http_method"`
	Headers    map[string]string `json:"headers"`
}

var (
	ErrHTTPMethodRequired = errors.New("http method is required")
	ErrInvalidHTTPMethod  = errors.New("invalid http method")
)

// ValidHTTPMethods is the set of methods a destination may be configured with.
var ValidHTTPMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"}

// NormalizeHTTPMethod upper-cases method and checks it against ValidHTTPMethods.
func NormalizeHTTPMethod(method string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		return "", ErrHTTPMethodRequired
	}
	for _, valid := range ValidHTTPMethods {
		if m == valid {
			return m, nil
		}
	}
	return "", ErrInvalidHTTPMethod
}

// IsGet reports whether the destination receives payloads as query parameters.
func (d Destination) IsGet() bool {
	return strings.EqualFold(d.HTTPMethod, "GET")
}
