package domain

import "encoding/json"

// Optional is a tri-state field for partial update payloads: absent from
// the document, present but null, or present with a value. encoding/json
// only invokes UnmarshalJSON for fields present in the document, so the
// zero value means "absent".
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// HasValue reports whether the field was present with a non-null value.
func (o Optional[T]) HasValue() bool {
	return o.Set && !o.Null
}

// TicketDelta is the partial field set carried by UPDATE_TICKET
// deliveries. Only changed fields appear on the wire.
type TicketDelta struct {
	Title       Optional[string]      `json:"title"`
	Description Optional[string]      `json:"description"`
	Status      Optional[string]      `json:"status"`
	Location    Optional[LocationRef] `json:"location"`
	IsDeleted   Optional[bool]        `json:"_isDeleted"`
}
