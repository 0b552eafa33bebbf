package models

// Payload is the decoded current-weather document returned by the upstream API.
// It is stored as parsed, with no schema applied: usually a map[string]any,
// but any JSON value the endpoint returns is accepted.
type Payload = any

// Field returns the top-level member name of p when p is a JSON object.
func Field(p Payload, name string) (any, bool) {
	obj, ok := p.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}
