// Package model defines the canonical City, Client and Property records and the
// property summaries embedded inside clients and cities.
package model

// Collection names. Each collection maps to one table keyed by "id".
const (
	Cities     = "cities"
	Clients    = "clients"
	Properties = "properties"
)

// DefaultStatus is used for summaries of properties created without a status.
const DefaultStatus = "default"

// City is a canonical city record.
type City struct {
	ID         string                 `dynamodbav:"id" json:"id"`
	Name       string                 `dynamodbav:"name" json:"name"`
	UserID     string                 `dynamodbav:"userId,omitempty" json:"userId,omitempty"`
	Position   string                 `dynamodbav:"position,omitempty" json:"position,omitempty"`
	CreatedAt  string                 `dynamodbav:"createdAt,omitempty" json:"createdAt,omitempty"`
	Properties map[string]CitySummary `dynamodbav:"properties,omitempty" json:"properties,omitempty"`
}

// Client is a canonical client record. City is a copy of the owning city's name.
type Client struct {
	ID         string                   `dynamodbav:"id" json:"id"`
	FullName   string                   `dynamodbav:"fullName" json:"fullName"`
	Email      *string                  `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Phone      *string                  `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	City       string                   `dynamodbav:"city,omitempty" json:"city,omitempty"`
	CityID     string                   `dynamodbav:"cityId,omitempty" json:"cityId,omitempty"`
	Address    string                   `dynamodbav:"address,omitempty" json:"address,omitempty"`
	UserID     string                   `dynamodbav:"userId,omitempty" json:"userId,omitempty"`
	CreatedAt  string                   `dynamodbav:"createdAt,omitempty" json:"createdAt,omitempty"`
	Properties map[string]ClientSummary `dynamodbav:"properties,omitempty" json:"properties,omitempty"`
}

// Property is a canonical property record. The client* fields and City are
// copies of the owning client's and city's values.
type Property struct {
	ID             string  `dynamodbav:"id" json:"id"`
	Address        string  `dynamodbav:"address" json:"address"`
	Position       string  `dynamodbav:"position,omitempty" json:"position,omitempty"`
	Status         *string `dynamodbav:"status,omitempty" json:"status,omitempty"`
	ClientID       string  `dynamodbav:"clientId,omitempty" json:"clientId,omitempty"`
	ClientFullName string  `dynamodbav:"clientFullName,omitempty" json:"clientFullName,omitempty"`
	ClientEmail    string  `dynamodbav:"clientEmail,omitempty" json:"clientEmail,omitempty"`
	ClientPhone    *string `dynamodbav:"clientPhone,omitempty" json:"clientPhone,omitempty"`
	CityID         string  `dynamodbav:"cityId,omitempty" json:"cityId,omitempty"`
	City           string  `dynamodbav:"city,omitempty" json:"city,omitempty"`
	UserID         string  `dynamodbav:"userId,omitempty" json:"userId,omitempty"`
	CreatedAt      string  `dynamodbav:"createdAt,omitempty" json:"createdAt,omitempty"`
}

// ClientSummary is the copy of a property embedded in Client.Properties.
type ClientSummary struct {
	ID       string `dynamodbav:"id" json:"id"`
	Label    string `dynamodbav:"label" json:"label"`
	Position string `dynamodbav:"position" json:"position"`
	Status   string `dynamodbav:"status" json:"status"`
}

// CitySummary is the copy of a property embedded in City.Properties.
type CitySummary struct {
	ID             string `dynamodbav:"id" json:"id"`
	Label          string `dynamodbav:"label" json:"label"`
	Position       string `dynamodbav:"position" json:"position"`
	Status         string `dynamodbav:"status" json:"status"`
	ClientFullName string `dynamodbav:"clientFullName" json:"clientFullName"`
	ClientID       string `dynamodbav:"clientId" json:"clientId"`
	ClientEmail    string `dynamodbav:"clientEmail" json:"clientEmail"`
	ClientPhone    string `dynamodbav:"clientPhone" json:"clientPhone"`
}

// MissingForSummary returns the names of the attributes that must be set before
// the property can be summarized. An empty result means it is complete.
func (p Property) MissingForSummary() []string {
	var missing []string
	if p.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if p.CityID == "" {
		missing = append(missing, "cityId")
	}
	if p.Address == "" {
		missing = append(missing, "address")
	}
	return missing
}

// ClientSummaryOf projects p onto the summary stored under its client.
func ClientSummaryOf(p Property) ClientSummary {
	return ClientSummary{
		ID:       p.ID,
		Label:    p.Address,
		Position: p.Position,
		Status:   statusOf(p),
	}
}

// CitySummaryOf projects p onto the summary stored under its city.
func CitySummaryOf(p Property) CitySummary {
	phone := ""
	if p.ClientPhone != nil {
		phone = *p.ClientPhone
	}
	return CitySummary{
		ID:             p.ID,
		Label:          p.Address,
		Position:       p.Position,
		Status:         statusOf(p),
		ClientFullName: p.ClientFullName,
		ClientID:       p.ClientID,
		ClientEmail:    p.ClientEmail,
		ClientPhone:    phone,
	}
}

func statusOf(p Property) string {
	if p.Status == nil {
		return DefaultStatus
	}
	return *p.Status
}

// String returns a pointer to s. Used for optional fields.
func String(s string) *string {
	return &s
}
