package domain

import (
	"encoding/json"
	"time"
)

// RemoteTicket is the provider-owned ticket record. Only the fields the
// reconciliation engine consumes are declared; everything else on the
// wire is ignored.
type RemoteTicket struct {
	ID          string      `json:"_id"`
	Number      int         `json:"_number"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	Location    LocationRef `json:"location"`
	CreatedAt   time.Time   `json:"_createdAt"`
	UpdatedAt   *time.Time  `json:"_updatedAt"`
	IsDeleted   bool        `json:"_isDeleted"`
}

// LocationRef accepts the provider's polymorphic location field: a plain
// id string, a full location object, or null.
type LocationRef struct {
	ID   string
	Name string
}

func (l *LocationRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = LocationRef{}
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*l = LocationRef{ID: id}
		return nil
	}
	var obj struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = LocationRef{ID: obj.ID, Name: obj.Name}
	return nil
}

func (l LocationRef) MarshalJSON() ([]byte, error) {
	if l.ID == "" && l.Name == "" {
		return []byte("null"), nil
	}
	if l.Name == "" {
		return json.Marshal(l.ID)
	}
	return json.Marshal(struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	}{ID: l.ID, Name: l.Name})
}

// String returns the most descriptive label available.
func (l LocationRef) String() string {
	if l.Name != "" {
		return l.Name
	}
	return l.ID
}

// TicketListResponse is the GET /tickets envelope.
type TicketListResponse struct {
	Total   int            `json:"total"`
	Results []RemoteTicket `json:"results"`
}

// Location is a provider location record from GET /locations.
type Location struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Parent    string `json:"parent"`
	IsDeleted bool   `json:"_isDeleted"`
}

// LocationListResponse is the GET /locations envelope.
type LocationListResponse struct {
	Total   int        `json:"total"`
	Results []Location `json:"results"`
}
