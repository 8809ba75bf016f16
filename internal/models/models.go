package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PropertyInfo describes one required (non-nullable) property of an entity type
type PropertyInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`      // EDM type, e.g. "Edm.String"
	MaxLength *int   `json:"maxLength"` // nil when absent or not numeric
}

// MetadataMap maps entity-set names to their required properties.
// Keys keep the order in which they were first set.
type MetadataMap struct {
	keys    []string
	entries map[string][]PropertyInfo
}

// NewMetadataMap creates an empty map
func NewMetadataMap() *MetadataMap {
	return &MetadataMap{entries: make(map[string][]PropertyInfo)}
}

// Set stores props under name. A repeated name replaces the value but keeps
// its original position.
func (m *MetadataMap) Set(name string, props []PropertyInfo) {
	if m.entries == nil {
		m.entries = make(map[string][]PropertyInfo)
	}
	if _, exists := m.entries[name]; !exists {
		m.keys = append(m.keys, name)
	}
	if props == nil {
		props = []PropertyInfo{}
	}
	m.entries[name] = props
}

// Get returns the properties stored under name
func (m *MetadataMap) Get(name string) ([]PropertyInfo, bool) {
	if m == nil {
		return nil, false
	}
	props, ok := m.entries[name]
	return props, ok
}

// Keys returns the entity-set names in order
func (m *MetadataMap) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Len returns the number of entity sets
func (m *MetadataMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// MarshalJSON writes the map as a JSON object in key order
func (m *MetadataMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m.entries[name])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties of %s: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving key order
func (m *MetadataMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata map must be a JSON object")
	}

	m.keys = nil
	m.entries = make(map[string][]PropertyInfo)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected metadata map key %v", tok)
		}
		var props []PropertyInfo
		if err := dec.Decode(&props); err != nil {
			return fmt.Errorf("failed to decode properties of %s: %w", name, err)
		}
		m.Set(name, props)
	}
	_, err = dec.Token()
	return err
}

// Record is one entity returned by a query. Values are passed through untouched.
type Record map[string]interface{}

// ConnectionRequest is the body of a metadata request. EntitySet is optional;
// when set, only that entity set is reported.
type ConnectionRequest struct {
	URL       string `json:"url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	EntitySet string `json:"entitySet,omitempty"`
}

// QueryRequest is the body of a generic entity-set query
type QueryRequest struct {
	URL          string `json:"url"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	EntitySet    string `json:"entitySet"`
	QueryOptions string `json:"queryOptions,omitempty"` // e.g. "$select=Name&$top=10"
}

// Connection returns the connection part of the query
func (q QueryRequest) Connection() ConnectionRequest {
	return ConnectionRequest{URL: q.URL, Username: q.Username, Password: q.Password}
}

// ErrorResponse is the body written for every failed gateway request
type ErrorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	RequestID      string `json:"request_id,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// ODataError represents an OData error body returned by the remote service
type ODataError struct {
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Details    []ODataErrorDetail     `json:"details,omitempty"`
	InnerError map[string]interface{} `json:"innererror,omitempty"`
	Target     string                 `json:"target,omitempty"`
}

// ODataErrorDetail represents detailed error information
type ODataErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}
