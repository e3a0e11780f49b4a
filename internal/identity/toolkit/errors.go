package toolkit

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/sumire/career/internal/domain"
)

var errorCodes = map[string]string{
	"EMAIL_EXISTS":                   domain.CodeEmailInUse,
	"INVALID_PASSWORD":               domain.CodeWrongPassword,
	"EMAIL_NOT_FOUND":                domain.CodeUserNotFound,
	"USER_NOT_FOUND":                 domain.CodeUserNotFound,
	"INVALID_LOGIN_CREDENTIALS":      domain.CodeInvalidCredential,
	"USER_DISABLED":                  domain.CodeUserDisabled,
	"TOO_MANY_ATTEMPTS_TRY_LATER":    domain.CodeTooManyRequests,
	"WEAK_PASSWORD":                  domain.CodeWeakPassword,
	"INVALID_EMAIL":                  domain.CodeInvalidEmail,
	"MISSING_EMAIL":                  domain.CodeInvalidEmail,
	"TOKEN_EXPIRED":                  domain.CodeTokenExpired,
	"INVALID_REFRESH_TOKEN":          domain.CodeInvalidRefreshToken,
	"INVALID_GRANT_TYPE":             domain.CodeInvalidRefreshToken,
	"MISSING_REFRESH_TOKEN":          domain.CodeInvalidRefreshToken,
	"INVALID_ID_TOKEN":               domain.CodeInvalidUserToken,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": domain.CodeTokenExpired,
}

type errorPayload struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeError turns a non-2xx response body into a *domain.ProviderError.
// Messages look like "WEAK_PASSWORD : Password should be at least 6 characters".
func decodeError(body []byte) error {
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Error.Message == "" {
		return &domain.ProviderError{Code: domain.CodeInternal, Message: strings.TrimSpace(string(body))}
	}

	return providerError(p.Error.Message)
}

func providerError(message string) error {
	reason, detail, _ := strings.Cut(message, " : ")
	reason = strings.TrimSpace(reason)

	code, ok := errorCodes[reason]
	if !ok {
		code = domain.CodeInternal
	}
	msg := reason
	if detail != "" {
		msg = reason + ": " + strings.TrimSpace(detail)
	}
	return &domain.ProviderError{Code: code, Message: msg}
}

// sessionRevoked reports whether err means the stored session can never be
// refreshed again.
func sessionRevoked(err error) bool {
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case domain.CodeTokenExpired, domain.CodeInvalidRefreshToken, domain.CodeUserDisabled,
		domain.CodeUserNotFound, domain.CodeInvalidUserToken:
		return true
	}
	return false
}
