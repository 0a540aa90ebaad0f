// Package channel stores channel records and serves the HTTP API that
// creates, edits and removes them.
package channel

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/P2PSP/crossroads/internal/engine"
)

type Channel struct {
	URL                 string `gorm:"primaryKey"`
	Name                string `gorm:"not null"`
	Description         string `gorm:"not null"`
	PasswordHash        string `gorm:"column:password;not null"`
	SourceAddress       string
	SourcePort          int
	HeaderSize          int `gorm:"not null"`
	IsSmartSourceClient bool
	SplitterPort        int
	MonitorPort         int
	SplitterAddress     string
	MonitorAddress      string
	Visible             bool `gorm:"not null;default:true"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if c.URL == "" {
		c.URL = uuid.NewString()
	}
	return nil
}

// Launch returns what the orchestrator needs to start the channel.
func (c *Channel) Launch() engine.Channel {
	return engine.Channel{
		URL:                 c.URL,
		Name:                c.Name,
		Description:         c.Description,
		SourceAddress:       c.SourceAddress,
		SourcePort:          c.SourcePort,
		HeaderSize:          c.HeaderSize,
		IsSmartSourceClient: c.IsSmartSourceClient,
		SplitterPort:        c.SplitterPort,
		MonitorPort:         c.MonitorPort,
	}
}
