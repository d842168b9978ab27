package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Tag 是曲目标签值，索引文件中可能写成字符串或数字
type Tag string

// UnmarshalJSON 同时接受 JSON 字符串和数字
func (t *Tag) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*t = Tag(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Tag(n.String())
	return nil
}

// TrackInfo 曲目元数据（标签）
type TrackInfo struct {
	Title       Tag     `json:"title"`
	Album       Tag     `json:"album"`
	Artist      Tag     `json:"artist"`
	AlbumArtist Tag     `json:"album_artist"`
	Genre       Tag     `json:"genre"`
	Track       Tag     `json:"track"`
	Disc        Tag     `json:"disc"`
	Date        Tag     `json:"date"`
	AlbumID     string  `json:"albumID"`
	Comment     *string `json:"comment,omitempty"`
	Duration    float64 `json:"duration"` // seconds
}

// SliceInfo 切片参数
type SliceInfo struct {
	Duration float64 `json:"duration"` // seconds per slice
	Length   int     `json:"length"`   // number of slices
	Price    int64   `json:"price"`    // price per slice
}

// Track 是切片索引中的一条记录，写入方是离线切片流程
type Track struct {
	ID    int64     `json:"-"`
	Info  TrackInfo `json:"info"`
	Slice SliceInfo `json:"slice"`
	Dir   string    `json:"dir"`
	File  string    `json:"file"`
	Mime  string    `json:"mime"`
}

// PricePerMinute 由切片价格推算的每分钟价格
func (t *Track) PricePerMinute() float64 {
	if t.Slice.Duration <= 0 {
		return 0
	}
	return float64(t.Slice.Price) * 60 / t.Slice.Duration
}

// SliceKey 返回切片在存储中的相对路径
func (t *Track) SliceKey(no int) string {
	return t.Dir + strconv.Itoa(no) + "." + t.File
}

// Tag 按索引名返回可搜索标签的取值
func (i *TrackInfo) Tag(name string) (string, bool) {
	switch name {
	case "title":
		return string(i.Title), true
	case "album":
		return string(i.Album), true
	case "artist":
		return string(i.Artist), true
	case "album_artist":
		return string(i.AlbumArtist), true
	case "genre":
		return string(i.Genre), true
	case "track":
		return string(i.Track), true
	case "disc":
		return string(i.Disc), true
	case "date":
		return string(i.Date), true
	}
	return "", false
}

// SearchableTags 可用于 generalTitle 搜索的标签
var SearchableTags = []string{"title", "album", "artist", "album_artist", "genre", "track", "disc", "date"}

// Album 由索引中的曲目按 albumID 去重得到
type Album struct {
	AlbumID  string `json:"albumID"`
	Album    string `json:"album"`
	Artist   string `json:"artist"`
	Date     string `json:"date"`
	Genre    string `json:"genre"`
	Cover    string `json:"cover"`
	Provider string `json:"provider"`
}

// TrackDescriptor 是搜索接口返回给客户端的曲目描述
type TrackDescriptor struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Album       string  `json:"album"`
	Artist      string  `json:"artist"`
	AlbumArtist string  `json:"album_artist"`
	Genre       string  `json:"genre"`
	Track       string  `json:"track"`
	Disc        string  `json:"disc"`
	Date        string  `json:"date"`
	AlbumID     string  `json:"albumID"`
	Comment     string  `json:"comment,omitempty"`
	Duration    float64 `json:"duration"`
	Cover       string  `json:"cover"`
	PPM         float64 `json:"ppm"`
	Provider    string  `json:"provider"`
}

// CoverPath 返回专辑封面的 URL 路径
func CoverPath(albumID string) string {
	return "/cover/" + albumID
}

// Describe 把曲目转换为搜索结果描述
func (t *Track) Describe(provider string) TrackDescriptor {
	d := TrackDescriptor{
		ID:          t.ID,
		Title:       string(t.Info.Title),
		Album:       string(t.Info.Album),
		Artist:      string(t.Info.Artist),
		AlbumArtist: string(t.Info.AlbumArtist),
		Genre:       string(t.Info.Genre),
		Track:       string(t.Info.Track),
		Disc:        string(t.Info.Disc),
		Date:        string(t.Info.Date),
		AlbumID:     t.Info.AlbumID,
		Duration:    t.Info.Duration,
		Cover:       CoverPath(t.Info.AlbumID),
		PPM:         t.PricePerMinute(),
		Provider:    provider,
	}
	if t.Info.Comment != nil {
		d.Comment = *t.Info.Comment
	}
	return d
}

// AlbumsOf 按出现顺序去重得到专辑列表
func AlbumsOf(tracks []*Track, provider string) []*Album {
	seen := make(map[string]bool)
	var albums []*Album
	for _, t := range tracks {
		if seen[t.Info.AlbumID] {
			continue
		}
		seen[t.Info.AlbumID] = true
		albums = append(albums, &Album{
			AlbumID:  t.Info.AlbumID,
			Album:    string(t.Info.Album),
			Artist:   string(t.Info.AlbumArtist),
			Date:     string(t.Info.Date),
			Genre:    string(t.Info.Genre),
			Cover:    CoverPath(t.Info.AlbumID),
			Provider: provider,
		})
	}
	return albums
}
