package domain

import "time"

// EntityType distinguishes the two kinds of tracked entities
type EntityType string

const (
	EntityTypeRepository EntityType = "repository"
	EntityTypeGroup      EntityType = "group"
)

// Entity represents a tracked project (repository) in the dashboard
type Entity struct {
	ID                  int64
	Key                 string
	Name                string
	IsActive            bool
	IsMarkedForDeletion bool
	ConsecutiveFailures int
	GroupID             *int64
	UpdateInterval      int // seconds
	LastSeen            time.Time
	CreatedAt           time.Time
}

// Group represents a named collection of repositories refreshed together
type Group struct {
	ID             int64
	Name           string
	Description    string
	UpdateInterval int // seconds
	CreatedAt      time.Time
}
