package orion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"orion-bridge/pkg/ontology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const updateOK = `{
	"contextResponses": [{
		"attributes": [{"name": "race_name", "type": "string", "value": ""}],
		"statusCode": {"code": "200", "reasonPhrase": "OK"}
	}],
	"id": "race1", "isPattern": "false", "type": "race"
}`

func TestCreateEntity(t *testing.T) {
	var gotMethod, gotPath, gotContentType string
	var gotBody ontology.EntityPayload

	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, updateOK)
	}))

	resp, err := c.CreateEntity(context.Background(), "race1", "race", map[string]interface{}{
		"race_name": "Sunday Fun Run",
		"start_list": []map[string]string{
			{"bib": "001", "name": "Tom"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/contextEntities/race1", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "race", gotBody.Type)
	require.Len(t, gotBody.Attributes, 2)
	assert.Equal(t, "race_name", gotBody.Attributes[0].Name)
	assert.Equal(t, "T", gotBody.Attributes[1].Type)

	assert.Equal(t, "race1", resp.ID)
	require.Len(t, resp.ContextResponses, 1)
	assert.Equal(t, "200", resp.ContextResponses[0].StatusCode.Code)
}

func TestCreateEntity_WithoutType(t *testing.T) {
	var raw map[string]interface{}
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		writeJSON(w, http.StatusOK, updateOK)
	}))

	_, err := c.CreateEntity(context.Background(), "race1", "", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	assert.NotContains(t, raw, "type")
}

func TestCreateEntity_UnsupportedValueSendsNothing(t *testing.T) {
	called := false
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	_, err := c.CreateEntity(context.Background(), "race1", "", map[string]interface{}{"bad": struct{}{}})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.False(t, called)
}

func TestErrorNormalization(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   ErrorKind
		wantStatus int
		wantJSON   bool
	}{
		{
			name:       "status with json body",
			status:     http.StatusBadRequest,
			body:       `{"error":"bad request"}`,
			wantKind:   KindStatus,
			wantStatus: http.StatusBadRequest,
			wantJSON:   true,
		},
		{
			name:       "status with text body",
			status:     http.StatusBadGateway,
			body:       `upstream down`,
			wantKind:   KindStatus,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "orion error in 200",
			status:     http.StatusOK,
			body:       `{"orionError":{"code":"400","reasonPhrase":"Bad Request","details":"JSON Parse Error"}}`,
			wantKind:   KindOrion,
			wantStatus: http.StatusOK,
			wantJSON:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))

			_, err := c.UpdateEntity(context.Background(), "race1", map[string]interface{}{"n": 1})
			require.Error(t, err)

			oe, ok := AsError(err)
			require.True(t, ok, "expected *Error, got %T", err)
			assert.Equal(t, tt.wantKind, oe.Kind)
			assert.Equal(t, tt.wantStatus, oe.StatusCode)
			assert.Equal(t, tt.body, string(oe.Body))
			assert.Equal(t, tt.wantJSON, oe.JSON())
			assert.False(t, IsNotFound(err))

			if tt.wantKind == KindOrion {
				require.NotNil(t, oe.Orion)
				assert.Equal(t, "400", oe.Orion.Code)
				assert.Equal(t, "JSON Parse Error", oe.Orion.Details)
			}
		})
	}
}

func TestFetchEntity(t *testing.T) {
	var gotPath string
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Empty(t, r.Header.Get("Content-Type"))
		writeJSON(w, http.StatusOK, `{
			"contextElement": {"id": "Room1", "type": "Room",
				"attributes": [{"name": "temperature", "type": "float", "value": "23"}]},
			"statusCode": {"code": "200", "reasonPhrase": "OK"}
		}`)
	}))

	attrs, err := c.FetchEntity(context.Background(), "Room1", "")
	require.NoError(t, err)
	assert.Equal(t, "/v1/contextEntities/Room1", gotPath)
	assert.Equal(t, Attributes{"temperature": "23"}, attrs)

	_, err = c.FetchEntity(context.Background(), "Room1", "temperature")
	require.NoError(t, err)
	assert.Equal(t, "/v1/contextEntities/Room1/attributes/temperature", gotPath)
}

func TestFetchEntity_NotFound(t *testing.T) {
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{
			"contextElement": {"id": "Nope", "isPattern": "false", "type": ""},
			"statusCode": {"code": "404", "reasonPhrase": "No context element found", "details": "Entity id: /Nope/"}
		}`)
	}))

	attrs, err := c.FetchEntity(context.Background(), "Nope", "")
	assert.Nil(t, attrs)
	assert.ErrorIs(t, err, ErrNotFound)
	_, isErrValue := AsError(err)
	assert.False(t, isErrValue, "not found is absence, not an error value")

	_, err = c.FetchAttribute(context.Background(), "Nope", "start_list")
	assert.True(t, IsNotFound(err))
}

func TestFetchEntitiesByType(t *testing.T) {
	var gotPath string
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, `{"contextResponses": [
			{"contextElement": {"id": "ZYXRoom1", "type": "ZYXMeetingRoom",
				"attributes": [{"name": "pressure", "type": "integer", "value": "731"}]},
			 "statusCode": {"code": "200", "reasonPhrase": "OK"}},
			{"contextElement": {"id": "ZYXRoom3", "type": "ZYXMeetingRoom",
				"attributes": [{"name": "pressure", "type": "integer", "value": "732"}]},
			 "statusCode": {"code": "200", "reasonPhrase": "OK"}}
		]}`)
	}))

	out, err := c.FetchEntitiesByType(context.Background(), "ZYXMeetingRoom", "pressure")
	require.NoError(t, err)
	assert.Equal(t, "/v1/contextEntityTypes/ZYXMeetingRoom/attributes/pressure", gotPath)
	assert.Len(t, out, 2)
	assert.Equal(t, "732", out["ZYXRoom3"]["pressure"])
}

func TestFetchEntitiesByType_NoneFound(t *testing.T) {
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"errorCode":{"code":"404","reasonPhrase":"No context element found"}}`)
	}))

	_, err := c.FetchEntitiesByType(context.Background(), "Ghost", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchAllEntities(t *testing.T) {
	var gotPath string
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, `{"contextResponses": [
			{"contextElement": {"id": "A", "attributes": []}, "statusCode": {"code": "200"}}
		]}`)
	}))

	out, err := c.FetchAllEntities(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/v1/contextEntities", gotPath)
	assert.Equal(t, map[string]Attributes{"A": {}}, out)
}

func TestFetchAttribute(t *testing.T) {
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contextEntities/race1/attributes/start_list", r.URL.Path)
		writeJSON(w, http.StatusOK, `{
			"attributes": [{"name": "start_list", "type": "T", "value": [{"bib": "001", "name": "Tom"}]}],
			"statusCode": {"code": "200", "reasonPhrase": "OK"}
		}`)
	}))

	val, err := c.FetchAttribute(context.Background(), "race1", "start_list")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{map[string]interface{}{"bib": "001", "name": "Tom"}}, val)
}

func TestUpdateAttribute(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]interface{}
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, `{"code":"200","reasonPhrase":"OK"}`)
	}))

	status, err := c.UpdateAttribute(context.Background(), "race1", "start_list", []string{"001", "002"})
	require.NoError(t, err)
	assert.Equal(t, "200", status.Code)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v1/contextEntities/race1/attributes/start_list", gotPath)
	assert.Equal(t, map[string]interface{}{"value": []interface{}{"001", "002"}}, gotBody)
}

func TestUpdateEntity(t *testing.T) {
	var gotPath string
	var gotBody ontology.EntityPayload
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, updateOK)
	}))

	_, err := c.UpdateEntity(context.Background(), "race1", map[string]interface{}{"temperature": 25.5})
	require.NoError(t, err)
	assert.Equal(t, "/v1/contextEntities/race1/attributes", gotPath)
	assert.Equal(t, []ontology.Attribute{{Name: "temperature", Type: "float", Value: 25.5}}, gotBody.Attributes)
}

func TestUpdateEntityRaw(t *testing.T) {
	var got string
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		writeJSON(w, http.StatusOK, updateOK)
	}))

	payload := map[string]interface{}{
		"attributes": []map[string]interface{}{{"name": "x", "type": "custom", "value": "1"}},
	}
	_, err := c.UpdateEntityRaw(context.Background(), "race1", payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"attributes":[{"name":"x","type":"custom","value":"1"}]}`, got)
}

func TestDeleteEntity(t *testing.T) {
	var gotMethod, gotPath string
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		writeJSON(w, http.StatusOK, `{"code":"200","reasonPhrase":"OK"}`)
	}))

	status, err := c.DeleteEntity(context.Background(), "race1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/contextEntities/race1", gotPath)
	assert.Equal(t, "200", status.Code)
}

func TestTransportFailure(t *testing.T) {
	c, srv := newTestBroker(t, http.NotFoundHandler())
	srv.Close()

	_, err := c.Version(context.Background())
	require.Error(t, err)
	_, isErrValue := AsError(err)
	assert.False(t, isErrValue)
}
