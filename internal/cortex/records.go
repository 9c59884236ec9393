package cortex

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError is returned when a required key is missing from the payload.
type ParseError struct {
	// Path is the location of the missing key, ex. itinerarySummaries[2].transporterId
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse summaries: %s: %s", e.Path, e.Err)
	}
	return fmt.Sprintf("parse summaries: missing required key %s", e.Path)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type deliveryProgress struct {
	TotalDeliveries     int `json:"totalDeliveries"`
	CompletedDeliveries int `json:"completedDeliveries"`
}

type route struct {
	RouteDeliveryProgress deliveryProgress `json:"routeDeliveryProgress"`
}

type itinerarySummary struct {
	// required
	ItineraryId   *string `json:"itineraryId"`
	TransporterId *string `json:"transporterId"`

	// optional
	CompanyId      string          `json:"companyId"`
	RouteCodes     []string        `json:"routeCodes"`
	ProgressStatus string          `json:"progressStatus"`
	Routes         []route         `json:"routes"`
	SessionEndTime json.RawMessage `json:"sessionEndTime"`
}

type company struct {
	CompanyId   string `json:"companyId"`
	CompanyName string `json:"companyName"`
}

type transporter struct {
	TransporterId   string `json:"transporterId"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	WorkPhoneNumber string `json:"workPhoneNumber"`
}

type summaries struct {
	// required, an explicit empty list is fine
	ItinerarySummaries *[]itinerarySummary `json:"itinerarySummaries"`

	// optional
	Companies    []company     `json:"companies"`
	Transporters []transporter `json:"transporters"`
}

type Risk string

const (
	RiskRed    Risk = "Red"
	RiskYellow Risk = "Yellow"
	RiskBlue   Risk = "Blue"
)

func riskOf(progressStatus string) Risk {
	switch progressStatus {
	case "BEHIND":
		return RiskRed
	case "AT_RISK":
		return RiskYellow
	default:
		return RiskBlue
	}
}

const StatusLoggedOut = "Logged out"

// Row is one itinerary of a station flattened for display.
type Row struct {
	Station             string
	Name                string
	Routes              string
	TransporterId       string
	Phone               string
	Risk                Risk
	TotalDeliveries     int
	CompletedDeliveries int
	Status              string
}

// Filter decides which itineraries become rows.
type Filter struct {
	// CompanyName keeps only itineraries of this company when set.
	CompanyName string
}

func present(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null" && trimmed != `""`
}

// Parse turns the JSON text of the summaries endpoint into rows.
func Parse(station, text string, filter Filter) ([]Row, error) {
	var payload summaries
	err := json.Unmarshal([]byte(text), &payload)
	if err != nil {
		return nil, &ParseError{Path: "$", Err: err}
	}
	if payload.ItinerarySummaries == nil {
		return nil, &ParseError{Path: "itinerarySummaries"}
	}

	companies := map[string]string{}
	for _, c := range payload.Companies {
		companies[c.CompanyId] = c.CompanyName
	}
	transporters := map[string]transporter{}
	for _, t := range payload.Transporters {
		if _, ok := transporters[t.TransporterId]; !ok {
			transporters[t.TransporterId] = t
		}
	}

	rows := []Row{}
	for i, itinerary := range *payload.ItinerarySummaries {
		if itinerary.ItineraryId == nil {
			return nil, &ParseError{Path: fmt.Sprintf("itinerarySummaries[%d].itineraryId", i)}
		}
		if itinerary.TransporterId == nil {
			return nil, &ParseError{Path: fmt.Sprintf("itinerarySummaries[%d].transporterId", i)}
		}

		if filter.CompanyName != "" && companies[itinerary.CompanyId] != filter.CompanyName {
			continue
		}

		t := transporters[*itinerary.TransporterId]
		var progress deliveryProgress
		if len(itinerary.Routes) > 0 {
			progress = itinerary.Routes[0].RouteDeliveryProgress
		}
		status := ""
		if present(itinerary.SessionEndTime) {
			status = StatusLoggedOut
		}

		rows = append(rows, Row{
			Station:             station,
			Name:                strings.TrimSpace(t.FirstName + " " + t.LastName),
			Routes:              strings.Join(itinerary.RouteCodes, " "),
			TransporterId:       *itinerary.TransporterId,
			Phone:               t.WorkPhoneNumber,
			Risk:                riskOf(itinerary.ProgressStatus),
			TotalDeliveries:     progress.TotalDeliveries,
			CompletedDeliveries: progress.CompletedDeliveries,
			Status:              status,
		})
	}
	return rows, nil
}
