// Package stubs holds the fixture directory served by the dev backend.
package stubs

import (
	"mazungumzo/internal/backend"
	"mazungumzo/internal/models"
)

var Users = []models.Participant{
	{ID: "1", FirstName: "Amani", LastName: "Otieno"},
	{ID: "2", FirstName: "Zawadi", LastName: "Mwangi"},
	{ID: "3", FirstName: "Baraka", LastName: "Kamau"},
	{ID: "4", FirstName: "Neema", LastName: "Achieng"},
}

// Conversations lists member ids per conversation. Participants are
// resolved against Users when the hub starts.
var Conversations = []struct {
	ID      models.ID
	Title   string
	Members []models.ID
}{
	{ID: "101", Members: []models.ID{"1", "2"}},
	{ID: "102", Members: []models.ID{"1", "3"}},
	{ID: "103", Members: []models.ID{"2", "3"}},
	{ID: "104", Title: "Project kickoff", Members: []models.ID{"1", "2", "3", "4"}},
}

var Greetings = map[models.ID][]models.Message{
	"101": {
		{SenderID: "2", Content: "Hi! I saw your application for the logo design job."},
		{SenderID: "1", Content: "Hello, thanks for reaching out. Happy to talk details."},
	},
	"104": {
		{SenderID: "4", Content: "Welcome everyone, **kickoff** is on Monday."},
	},
}

// Fixtures returns the seed conversations for a dev backend hub.
func Fixtures() []backend.Conversation {
	convs := make([]backend.Conversation, 0, len(Conversations))
	for _, c := range Conversations {
		convs = append(convs, backend.Conversation{
			ID:       c.ID,
			Title:    c.Title,
			Members:  c.Members,
			Messages: Greetings[c.ID],
		})
	}
	return convs
}
