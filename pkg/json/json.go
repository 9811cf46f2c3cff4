// Package json routes all serialization through jsoniter configured for
// stdlib compatibility. Importing this instead of encoding/json keeps every
// component on one shared configuration.
package json

import jsoniter "github.com/json-iterator/go"

var api = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	Marshal    = api.Marshal
	Unmarshal  = api.Unmarshal
	NewDecoder = api.NewDecoder
	NewEncoder = api.NewEncoder
	Valid      = api.Valid
)
