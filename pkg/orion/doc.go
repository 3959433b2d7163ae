// Package orion is a client for the FIWARE Orion Context Broker NGSI v1 REST API.
//
// Entities are exchanged as plain name to value maps and converted to and
// from the broker's attribute list on the wire:
//
//	{"attributes": [{"name": "race_name", "type": "string", "value": "Sunday Fun Run"}]}
//
// # Errors
//
// Any non-200 response, or a 200 response carrying an orionError document,
// is returned as *Error. Fetches translate an embedded 404 status code into
// ErrNotFound. Token endpoint failures wrap ErrTokenRequest.
//
// # Tokens
//
// With AuthFIWAREToken the client requests an X-Auth-Token from the token
// URL on first use and reuses it until one second before its one hour
// lifetime ends. Each call is a single round trip; nothing is retried.
package orion
