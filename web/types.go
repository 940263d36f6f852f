package web

import (
	"github.com/jnesss/ttrace/database"
	"github.com/jnesss/ttrace/tags"
)

// PacketRow represents a stored packet for the web API
type PacketRow struct {
	database.PacketRecord
	TaskName string `json:"taskName,omitempty"`
	Text     string `json:"text"`
}

// TagRow is one registry entry and whether it is enabled
type TagRow struct {
	tags.Descriptor
	Enabled bool `json:"enabled"`
}

// StatusUpdate is the body of a match status change
type StatusUpdate struct {
	Status string `json:"status"`
}

// summary feeds the index page
type summary struct {
	Packets int64
	Tasks   int
	Rules   int
	Tags    string
}
