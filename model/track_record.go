package model

import "time"

// TrackRecord 是曲目索引在 MySQL 中的行结构
type TrackRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Title         string    `gorm:"size:255;index"`
	Album         string    `gorm:"size:255;index"`
	Artist        string    `gorm:"size:255"`
	AlbumArtist   string    `gorm:"size:255"`
	Genre         string    `gorm:"size:100"`
	TrackNo       string    `gorm:"column:track_no;size:20"`
	Disc          string    `gorm:"size:20"`
	Date          string    `gorm:"size:20"`
	AlbumID       string    `gorm:"column:album_id;size:64;index"`
	Comment       *string   `gorm:"type:text"`
	Duration      float64   `gorm:"not null;default:0"`
	SliceDuration float64   `gorm:"not null"`
	SliceCount    int       `gorm:"not null"`
	SlicePrice    int64     `gorm:"not null;default:0"`
	Dir           string    `gorm:"size:512;not null"`
	File          string    `gorm:"size:255;not null"`
	Mime          string    `gorm:"size:64;not null"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TableName 指定表名
func (TrackRecord) TableName() string {
	return "slice_tracks"
}

// ToTrack 把数据库行转换为索引表示
func (r *TrackRecord) ToTrack() *Track {
	return &Track{
		ID: r.ID,
		Info: TrackInfo{
			Title:       Tag(r.Title),
			Album:       Tag(r.Album),
			Artist:      Tag(r.Artist),
			AlbumArtist: Tag(r.AlbumArtist),
			Genre:       Tag(r.Genre),
			Track:       Tag(r.TrackNo),
			Disc:        Tag(r.Disc),
			Date:        Tag(r.Date),
			AlbumID:     r.AlbumID,
			Comment:     r.Comment,
			Duration:    r.Duration,
		},
		Slice: SliceInfo{Duration: r.SliceDuration, Length: r.SliceCount, Price: r.SlicePrice},
		Dir:   r.Dir,
		File:  r.File,
		Mime:  r.Mime,
	}
}

// NewTrackRecord 由索引条目构造数据库行，ID 由数据库分配
func NewTrackRecord(t *Track) *TrackRecord {
	return &TrackRecord{
		Title:         string(t.Info.Title),
		Album:         string(t.Info.Album),
		Artist:        string(t.Info.Artist),
		AlbumArtist:   string(t.Info.AlbumArtist),
		Genre:         string(t.Info.Genre),
		TrackNo:       string(t.Info.Track),
		Disc:          string(t.Info.Disc),
		Date:          string(t.Info.Date),
		AlbumID:       t.Info.AlbumID,
		Comment:       t.Info.Comment,
		Duration:      t.Info.Duration,
		SliceDuration: t.Slice.Duration,
		SliceCount:    t.Slice.Length,
		SlicePrice:    t.Slice.Price,
		Dir:           t.Dir,
		File:          t.File,
		Mime:          t.Mime,
	}
}
