package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/models"
)

// ExtractRecords returns the entity records held in a decoded OData JSON
// response, whatever envelope it uses:
//
//	{"value": [...]}            OData v4 collection
//	{"d": {"results": [...]}}   OData v2 collection
//	{"d": [...]}                OData v2 bare array
//	[...]                       bare array
//	{...}                       single entity
//
// Anything else (scalars, null) yields an empty slice. Array elements that are
// not objects are wrapped as {"value": element}.
func ExtractRecords(v interface{}) []models.Record {
	switch root := v.(type) {
	case map[string]interface{}:
		if value, ok := root[constants.EnvelopeValueV4].([]interface{}); ok {
			return toRecords(value)
		}
		if d, ok := root[constants.EnvelopeDataV2]; ok {
			switch data := d.(type) {
			case map[string]interface{}:
				if results, ok := data[constants.EnvelopeResultsV2].([]interface{}); ok {
					return toRecords(results)
				}
			case []interface{}:
				return toRecords(data)
			}
		}
		return []models.Record{models.Record(root)}
	case []interface{}:
		return toRecords(root)
	default:
		return []models.Record{}
	}
}

func toRecords(items []interface{}) []models.Record {
	records := make([]models.Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			records = append(records, models.Record(obj))
			continue
		}
		records = append(records, models.Record{constants.WrappedValueKey: item})
	}
	return records
}

// DecodeJSON decodes a response body into generic JSON values. Numbers are
// kept as json.Number so Edm.Int64 and Edm.Decimal values survive unchanged.
// An empty body decodes to nil.
func DecodeJSON(body []byte) (interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse JSON response: trailing data after JSON value")
	}
	return v, nil
}

// parseErrorBody turns an upstream error response into an UpstreamError,
// reading the OData v2 or v4 error body when there is one
func parseErrorBody(body []byte, statusCode int) *UpstreamError {
	upstreamErr := &UpstreamError{StatusCode: statusCode}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		// v2: {"error": {"code": "...", "message": {"lang": "en", "value": "..."}}}
		var v2 struct {
			Code    string `json:"code"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &v2); err == nil && v2.Message.Value != "" {
			upstreamErr.Code = v2.Code
			upstreamErr.Message = v2.Message.Value
			return upstreamErr
		}

		// v4: {"error": {"code": "...", "message": "...", "details": [...]}}
		var v4 models.ODataError
		if err := json.Unmarshal(envelope.Error, &v4); err == nil && v4.Message != "" {
			upstreamErr.Code = v4.Code
			upstreamErr.Message = v4.Message
			if v4.Target != "" {
				upstreamErr.Message += fmt.Sprintf(" (target: %s)", v4.Target)
			}
			for _, detail := range v4.Details {
				upstreamErr.Message += "; " + detail.Message
			}
			return upstreamErr
		}
	}

	upstreamErr.Message = truncate(strings.TrimSpace(string(body)), maxErrorBodyLength)
	return upstreamErr
}

const maxErrorBodyLength = 512

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
