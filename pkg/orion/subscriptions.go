package orion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"orion-bridge/pkg/ontology"
)

const (
	DefaultCallbackPath = "/fw/orion-notify/"
	DefaultDuration     = "1M"
	DefaultThrottling   = "1S"
)

var (
	// durationRe matches the part of an ISO-8601 duration after the leading P.
	durationRe = regexp.MustCompile(`^(\d+Y)?(\d+M)?(\d+W)?(\d+D)?(T(\d+H)?(\d+M)?(\d+(\.\d+)?S)?)?$`)
	// throttleRe matches the part after PT; periods are below a day.
	throttleRe = regexp.MustCompile(`^(\d+H)?(\d+M)?(\d+(\.\d+)?S)?$`)
)

// SubscriptionRequest describes an ONCHANGE subscription on one entity.
// Duration and Throttling are ISO-8601 fragments without their P / PT prefix.
type SubscriptionRequest struct {
	EntityID    string
	EntityType  string
	Attributes  []string
	CallbackURL string
	Duration    string
	Throttling  string
}

// BuildSubscription renders req into the broker document, applying defaults.
func (c *Client) BuildSubscription(req SubscriptionRequest) (*ontology.SubscribeContextRequest, error) {
	if req.EntityID == "" {
		return nil, fmt.Errorf("orion: entity id required")
	}

	duration := req.Duration
	if duration == "" {
		duration = DefaultDuration
	}
	duration = strings.TrimPrefix(strings.ToUpper(duration), "P")
	if duration == "" || duration == "T" || !durationRe.MatchString(duration) {
		return nil, fmt.Errorf("%w: duration %q", ErrInvalidDuration, req.Duration)
	}

	throttling := req.Throttling
	if throttling == "" {
		throttling = DefaultThrottling
	}
	throttling = strings.TrimPrefix(strings.ToUpper(throttling), "PT")
	if throttling == "" || !throttleRe.MatchString(throttling) {
		return nil, fmt.Errorf("%w: throttling %q", ErrInvalidDuration, req.Throttling)
	}

	attrs := req.Attributes
	if attrs == nil {
		attrs = []string{}
	}

	return &ontology.SubscribeContextRequest{
		Entities: []ontology.EntityRef{{
			Type:      req.EntityType,
			IsPattern: "false",
			ID:        req.EntityID,
		}},
		Attributes: attrs,
		Reference:  c.callbackURL(req.CallbackURL),
		Duration:   "P" + duration,
		NotifyConditions: []ontology.NotifyCondition{{
			Type:       ontology.NotifyOnChange,
			CondValues: attrs,
		}},
		Throttling: "PT" + throttling,
	}, nil
}

// callbackURL makes a relative callback absolute against CallbackBase.
func (c *Client) callbackURL(callback string) string {
	if callback == "" {
		callback = DefaultCallbackPath
	}
	if strings.HasPrefix(callback, "http") {
		return callback
	}
	base := strings.TrimRight(c.cfg.CallbackBase, "/")
	if base == "" {
		return callback
	}
	return base + "/" + strings.TrimLeft(callback, "/")
}

// Subscribe registers a change subscription and returns the broker's answer.
func (c *Client) Subscribe(ctx context.Context, req SubscriptionRequest) (*ontology.SubscribeResponse, error) {
	msg, err := c.BuildSubscription(req)
	if err != nil {
		return nil, err
	}

	if c.logger != nil {
		data, _ := json.Marshal(msg)
		c.logf("Subscribing: %s", data)
	}

	var resp ontology.SubscribeResponse
	if err := c.doJSON(ctx, http.MethodPost, c.operationURL("subscribeContext"), msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelSubscription removes subscription id from the broker.
func (c *Client) CancelSubscription(ctx context.Context, id string) (*ontology.UnsubscribeResponse, error) {
	var resp ontology.UnsubscribeResponse
	payload := ontology.UnsubscribeRequest{SubscriptionID: id}
	if err := c.doJSON(ctx, http.MethodPost, c.operationURL("unsubscribeContext"), payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
