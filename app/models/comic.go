package models

import "time"

// Comic and Episode belong to the content-management side of the system. The
// payment engine only reads the ordered episode list through the content
// provider; everything else about them is out of scope here.
type Comic struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title"`
	Slug      string    `gorm:"type:varchar(200);uniqueIndex" json:"slug"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Episode struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ComicID     uint      `gorm:"not null;index:ux_episodes_comic_seq,unique,priority:1" json:"comic_id"`
	Seq         int       `gorm:"not null;index:ux_episodes_comic_seq,unique,priority:2" json:"seq"`
	Title       string    `gorm:"type:varchar(200);not null" json:"title"`
	ViewCount   int64     `gorm:"not null;default:0" json:"view_count"`
	PublishedAt time.Time `gorm:"type:timestamp" json:"published_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
