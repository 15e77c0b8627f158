package main

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

type Responsible struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName"`
	Email      string `json:"email"`
}

type PlanPayload struct {
	Code        string      `json:"code"`
	Status      string      `json:"status"`
	Release     []string    `json:"release"`
	Responsible Responsible `json:"responsible"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type ReleasePayload struct {
	Code         string      `json:"code"`
	Status       string      `json:"status"`
	DistrLink    []string    `json:"distrLink"`
	UatOrganizer Responsible `json:"uatOrganizer"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

var generators = map[string]func() (string, error){
	"plan":    planEvent,
	"release": releaseEvent,
	"text": func() (string, error) {
		return gofakeit.Sentence(12), nil
	},
}

func planEvent() (string, error) {
	now := time.Now()
	return event("plan", PlanPayload{
		Code:        gofakeit.Regex("[A-Z]{3}-[0-9]{3}"),
		Status:      gofakeit.RandomString([]string{"draft", "approved", "done"}),
		Release:     []string{gofakeit.Regex("[A-Z]{3}-[0-9]{3}")},
		Responsible: fakeResponsible(),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func releaseEvent() (string, error) {
	now := time.Now()
	return event("release", ReleasePayload{
		Code:         gofakeit.Regex("[A-Z]{3}-[0-9]{3}"),
		Status:       gofakeit.RandomString([]string{"planned", "in_progress", "released"}),
		DistrLink:    []string{gofakeit.URL()},
		UatOrganizer: fakeResponsible(),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func fakeResponsible() Responsible {
	return Responsible{
		FirstName:  gofakeit.FirstName(),
		LastName:   gofakeit.LastName(),
		MiddleName: gofakeit.FirstName(),
		Email:      gofakeit.Email(),
	}
}

func event(suitCode string, payload any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"id":        uuid.New().String(),
		"system":    "kafka-onion",
		"eventDate": time.Now(),
		"eventType": "CREATE",
		"suitCode":  suitCode,
		"payload":   payload,
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}
