package ontology

import (
	"encoding/json"
)

// Attribute is the NGSI v1 name/type/value triple.
type Attribute struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// Attribute types inferred from native values.
const (
	AttrTypeInteger  = "integer"
	AttrTypeFloat    = "float"
	AttrTypeBoolean  = "boolean"
	AttrTypeString   = "string"
	AttrTypeDatetime = "datetime"
	AttrTypeGeneric  = "T"
)

type ContextElement struct {
	ID         string      `json:"id"`
	Type       string      `json:"type,omitempty"`
	IsPattern  string      `json:"isPattern,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// StatusCode is embedded by the broker in otherwise successful responses.
type StatusCode struct {
	Code         string `json:"code"`
	ReasonPhrase string `json:"reasonPhrase,omitempty"`
	Details      string `json:"details,omitempty"`
}

type ContextElementResponse struct {
	ContextElement *ContextElement `json:"contextElement,omitempty"`
	Attributes     []Attribute     `json:"attributes,omitempty"`
	StatusCode     StatusCode      `json:"statusCode"`
}

// UpdateContextResponse is returned by the convenience create/update operations.
type UpdateContextResponse struct {
	ContextResponses []ContextElementResponse `json:"contextResponses"`
	ID               string                   `json:"id,omitempty"`
	Type             string                   `json:"type,omitempty"`
	IsPattern        string                   `json:"isPattern,omitempty"`
}

// QueryContextResponse is the multi-entity envelope used by list queries and notifications.
type QueryContextResponse struct {
	ContextResponses []ContextElementResponse `json:"contextResponses"`
}

// EntityPayload is the body of a create request.
type EntityPayload struct {
	Type       string      `json:"type,omitempty"`
	Attributes []Attribute `json:"attributes"`
}

// AttributeValue is the body of a single attribute update.
type AttributeValue struct {
	Value interface{} `json:"value"`
}

type VersionInfo struct {
	Orion struct {
		Version     string `json:"version"`
		Uptime      string `json:"uptime"`
		GitHash     string `json:"git_hash"`
		CompileTime string `json:"compile_time"`
		CompiledBy  string `json:"compiled_by"`
		CompiledIn  string `json:"compiled_in"`
	} `json:"orion"`
}

// OrionError is the payload the broker embeds under "orionError".
type OrionError struct {
	Code         string `json:"code"`
	ReasonPhrase string `json:"reasonPhrase"`
	Details      string `json:"details,omitempty"`
}

// RawDocument keeps an undecoded response body around for callers that want it.
type RawDocument = json.RawMessage
