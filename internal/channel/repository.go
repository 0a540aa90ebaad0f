package channel

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned for a url with no channel.
var ErrNotFound = errors.New("channel not found")

// Store is the data access the channel API and the orchestrator use.
type Store interface {
	GetChannel(url string) (*Channel, error)
	GetChannelHash(url string) (string, error)
	InsertChannel(c *Channel) error
	UpdateChannel(c *Channel) error
	RemoveChannel(url string) error
	ListChannels(limit, offset int) ([]Channel, error)
}

type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetChannel(url string) (*Channel, error) {
	var c Channel
	if err := r.db.First(&c, "url = ?", url).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetChannelHash(url string) (string, error) {
	var c Channel
	err := r.db.Select("password").First(&c, "url = ?", url).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return "", err
	}
	return c.PasswordHash, nil
}

func (r *Repository) InsertChannel(c *Channel) error {
	c.Visible = true
	return r.db.Create(c).Error
}

// UpdateChannel writes the editable fields and the launch addresses of c.
func (r *Repository) UpdateChannel(c *Channel) error {
	res := r.db.Model(&Channel{}).Where("url = ?", c.URL).Updates(map[string]interface{}{
		"name":             c.Name,
		"description":      c.Description,
		"splitter_address": c.SplitterAddress,
		"monitor_address":  c.MonitorAddress,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.URL)
	}
	return nil
}

// RemoveChannel deletes the channel. Removing an unknown url is not an error.
func (r *Repository) RemoveChannel(url string) error {
	return r.db.Delete(&Channel{}, "url = ?", url).Error
}

// ListChannels returns visible channels, oldest first.
func (r *Repository) ListChannels(limit, offset int) ([]Channel, error) {
	var channels []Channel
	err := r.db.Where("visible = ?", true).
		Order("created_at asc").
		Order("url asc").
		Limit(limit).
		Offset(offset).
		Find(&channels).Error
	return channels, err
}
