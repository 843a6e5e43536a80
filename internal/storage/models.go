package storage

import (
	"encoding/json"
	"time"
)

// Document is a stored JSON body with its last write time.
type Document struct {
	Body      json.RawMessage
	UpdatedAt time.Time
}

type AuditEntry struct {
	Actor    string
	Action   string
	MetaJSON string
}
