package orion

import (
	"encoding/json"
	"errors"
	"fmt"

	"orion-bridge/pkg/ontology"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotFound is returned by fetches when the broker reports a 404 inside a 200 envelope.
	ErrNotFound = errors.New("orion: entity not found")

	ErrInvalidAuthMethod  = errors.New("orion: invalid auth method")
	ErrMissingCredentials = errors.New("orion: username and password required")
	ErrMissingTokenURL    = errors.New("orion: token url required")
	ErrTokenRequest       = errors.New("orion: cannot get token")
	ErrUnsupportedValue   = errors.New("orion: unsupported attribute value")
	ErrInvalidDuration    = errors.New("orion: invalid ISO-8601 duration")
)

type ErrorKind int

const (
	// KindStatus is a non-200 response.
	KindStatus ErrorKind = iota + 1
	// KindOrion is an orionError payload inside a 200 response.
	KindOrion
)

func (k ErrorKind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindOrion:
		return "orion"
	default:
		return "unknown"
	}
}

// Error is the normalized failure of a broker-facing call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       []byte
	Orion      *ontology.OrionError
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindOrion:
		if e.Orion != nil {
			return fmt.Sprintf("orion error %s: %s %s", e.Orion.Code, e.Orion.ReasonPhrase, e.Orion.Details)
		}
		return "orion error"
	default:
		if len(e.Body) > 0 {
			return fmt.Sprintf("orion status %d: %s", e.StatusCode, truncate(e.Body, 256))
		}
		return fmt.Sprintf("orion status %d", e.StatusCode)
	}
}

// JSON reports whether the body of a status error was decodable JSON.
func (e *Error) JSON() bool {
	return len(e.Body) > 0 && gjson.ValidBytes(e.Body)
}

// AsError unwraps err into an *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// orionErrorFrom returns the embedded orionError of a response body, if any.
func orionErrorFrom(body []byte) (*ontology.OrionError, bool) {
	res := gjson.GetBytes(body, "orionError")
	if !res.Exists() {
		return nil, false
	}
	var oe ontology.OrionError
	if err := json.Unmarshal([]byte(res.Raw), &oe); err != nil {
		oe.Details = res.Raw
	}
	return &oe, true
}

// embeddedNotFound reports a 404 status code nested in a 200 body. Single
// entity queries carry it under statusCode, list queries under errorCode.
func embeddedNotFound(body []byte) bool {
	codes := gjson.GetManyBytes(body, "statusCode.code", "errorCode.code")
	for _, code := range codes {
		if code.String() == "404" {
			return true
		}
	}
	return false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
