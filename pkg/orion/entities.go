package orion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"orion-bridge/pkg/ontology"
)

// Version returns the broker's version document.
func (c *Client) Version(ctx context.Context) (*ontology.VersionInfo, error) {
	var v ontology.VersionInfo
	if err := c.doJSON(ctx, http.MethodGet, makeURL(c.HostPrefix(), "version"), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateEntity creates or replaces entityID with the given attributes.
// typeID may be empty.
func (c *Client) CreateEntity(ctx context.Context, entityID, typeID string, attrs map[string]interface{}) (*ontology.UpdateContextResponse, error) {
	encoded, err := EncodeAttributes(attrs)
	if err != nil {
		return nil, err
	}

	payload := ontology.EntityPayload{Type: typeID, Attributes: encoded}
	var resp ontology.UpdateContextResponse
	if err := c.doJSON(ctx, http.MethodPost, c.entitiesURL(entityID), payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateEntity appends or updates several attributes of entityID.
func (c *Client) UpdateEntity(ctx context.Context, entityID string, attrs map[string]interface{}) (*ontology.UpdateContextResponse, error) {
	encoded, err := EncodeAttributes(attrs)
	if err != nil {
		return nil, err
	}

	payload := ontology.EntityPayload{Attributes: encoded}
	var resp ontology.UpdateContextResponse
	if err := c.doJSON(ctx, http.MethodPost, c.entitiesURL(entityID, "attributes"), payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateEntityRaw posts payload to the entity's attributes as-is, for
// callers that already hold a broker-shaped document.
func (c *Client) UpdateEntityRaw(ctx context.Context, entityID string, payload interface{}) (*ontology.UpdateContextResponse, error) {
	var resp ontology.UpdateContextResponse
	body := normalizeNested(reflect.ValueOf(payload))
	if err := c.doJSON(ctx, http.MethodPost, c.entitiesURL(entityID, "attributes"), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateAttribute replaces the value of a single attribute.
func (c *Client) UpdateAttribute(ctx context.Context, entityID, attribute string, value interface{}) (*ontology.StatusCode, error) {
	payload := ontology.AttributeValue{Value: normalizeNested(reflect.ValueOf(value))}
	var resp ontology.StatusCode
	if err := c.doJSON(ctx, http.MethodPut, c.entitiesURL(entityID, "attributes", attribute), payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchEntity returns the attributes of entityID, or only attribute when it
// is non-empty. A missing entity yields ErrNotFound.
func (c *Client) FetchEntity(ctx context.Context, entityID, attribute string) (Attributes, error) {
	if entityID == "" {
		return nil, fmt.Errorf("orion: entity id required")
	}
	body, err := c.fetch(ctx, c.entitiesURL(attributePath(entityID, attribute)...))
	if err != nil {
		return nil, err
	}
	return DecodeAttributes(body)
}

// FetchEntitiesByType returns every entity of typeID keyed by entity id.
func (c *Client) FetchEntitiesByType(ctx context.Context, typeID, attribute string) (map[string]Attributes, error) {
	if typeID == "" {
		return nil, fmt.Errorf("orion: type id required")
	}
	body, err := c.fetch(ctx, c.entityTypesURL(attributePath(typeID, attribute)...))
	if err != nil {
		return nil, err
	}
	return DecodeContextResponses(body)
}

// FetchAllEntities returns every entity known to the broker keyed by entity id.
func (c *Client) FetchAllEntities(ctx context.Context, attribute string) (map[string]Attributes, error) {
	body, err := c.fetch(ctx, c.entitiesURL(attributePath("", attribute)...))
	if err != nil {
		return nil, err
	}
	return DecodeContextResponses(body)
}

// FetchAttribute returns the value of one attribute of entityID.
func (c *Client) FetchAttribute(ctx context.Context, entityID, attribute string) (interface{}, error) {
	body, err := c.fetch(ctx, c.entitiesURL(entityID, "attributes", attribute))
	if err != nil {
		return nil, err
	}

	var doc struct {
		Attributes []ontology.Attribute `json:"attributes"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode attribute: %w", err)
	}
	if len(doc.Attributes) == 0 {
		return nil, ErrNotFound
	}
	return doc.Attributes[0].Value, nil
}

// DeleteEntity removes entityID from the broker.
func (c *Client) DeleteEntity(ctx context.Context, entityID string) (*ontology.StatusCode, error) {
	var resp ontology.StatusCode
	if err := c.doJSON(ctx, http.MethodDelete, c.entitiesURL(entityID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// fetch is a GET that turns an embedded 404 into ErrNotFound.
func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if embeddedNotFound(body) {
		return nil, ErrNotFound
	}
	return body, nil
}

func attributePath(id, attribute string) []string {
	parts := []string{id}
	if attribute != "" {
		parts = append(parts, "attributes", attribute)
	}
	return parts
}
