package model

import (
	"errors"
	"net/http"
	"strconv"
)

// 切片协议响应头
const (
	HeaderServerVersion = "Server-Version"

	HeaderStreamID          = "Stream-Id"
	HeaderStreamTitle       = "Stream-Title"
	HeaderStreamAlbum       = "Stream-Album"
	HeaderStreamArtist      = "Stream-Artist"
	HeaderStreamAlbumArtist = "Stream-AlbumArtist"
	HeaderStreamAlbumID     = "Stream-AlbumID"
	HeaderStreamGenre       = "Stream-Genre"
	HeaderStreamTrack       = "Stream-Track"
	HeaderStreamDisc        = "Stream-Disc"
	HeaderStreamDate        = "Stream-Date"
	HeaderStreamDuration    = "Stream-Duration"
	HeaderStreamComment     = "Stream-Comment"

	HeaderSliceNo       = "Slice-No"
	HeaderSliceOf       = "Slice-Of"
	HeaderSliceDuration = "Slice-Duration"

	HeaderPaymentProvider   = "Payment-Provider"
	HeaderPaymentAccepted   = "Payment-Accepted"
	HeaderPaymentRemaining  = "Payment-Remaining"
	HeaderPaymentPrice      = "Payment-Price"
	HeaderPaymentCollateral = "Payment-Collateral"
)

// MetadataSlice 是只返回元数据、不收费的切片号
const MetadataSlice = -1

// 搜索类型
const (
	SearchGeneralTitle = "generalTitle"
	SearchAlbum        = "album"
	SearchAlbumTitles  = "albumTitles"
)

// RequestError 是所有请求失败时返回的错误码
const RequestError = "REQUEST_ERROR"

var ErrMissingPaymentHeader = errors.New("response carries no payment acceptance header")

// SliceRequest 切片请求体
type SliceRequest struct {
	ID    int64  `json:"id"`
	No    int    `json:"no"`
	PayID string `json:"payID"`
}

// SearchRequest 搜索请求体，标签过滤值为数组，数组内为或、标签间为与
type SearchRequest struct {
	Type         string   `json:"type"`
	SearchString string   `json:"searchString,omitempty"`
	AlbumID      string   `json:"albumID,omitempty"`
	Title        []string `json:"title,omitempty"`
	Album        []string `json:"album,omitempty"`
	Artist       []string `json:"artist,omitempty"`
	AlbumArtist  []string `json:"album_artist,omitempty"`
	Genre        []string `json:"genre,omitempty"`
	Track        []string `json:"track,omitempty"`
	Disc         []string `json:"disc,omitempty"`
	Date         []string `json:"date,omitempty"`
}

// Filters 返回请求中出现的标签过滤条件，以标签名为键
func (r *SearchRequest) Filters() map[string][]string {
	all := map[string][]string{
		"title":        r.Title,
		"album":        r.Album,
		"artist":       r.Artist,
		"album_artist": r.AlbumArtist,
		"genre":        r.Genre,
		"track":        r.Track,
		"disc":         r.Disc,
		"date":         r.Date,
	}
	filters := make(map[string][]string)
	for tag, values := range all {
		if values != nil {
			filters[tag] = values
		}
	}
	return filters
}

// InfoResponse 服务器信息
type InfoResponse struct {
	Accepted            bool   `json:"accepted"`
	Version             string `json:"version"`
	Provider            string `json:"provider"`
	MaxListResults      int    `json:"maxListResults"`
	SuggestedCollateral int64  `json:"suggestedCollateral"`
}

// ErrorResponse 请求失败时的响应体
type ErrorResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error"`
}

// SliceMeta 是切片响应头携带的全部元数据
type SliceMeta struct {
	ServerVersion string
	Mime          string
	TrackID       int64
	Info          TrackInfo
	SliceNo       int
	SliceCount    int
	SliceDuration float64
	Provider      string
	Accepted      bool
	Remaining     int64
	Price         int64
	Collateral    int64
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// WriteHeaders 把元数据写成切片协议的响应头
func (m *SliceMeta) WriteHeaders(h http.Header) {
	comment := ""
	if m.Info.Comment != nil {
		comment = *m.Info.Comment
	}
	h.Set("Content-Type", m.Mime)
	h.Set(HeaderServerVersion, m.ServerVersion)
	h.Set(HeaderStreamID, strconv.FormatInt(m.TrackID, 10))
	h.Set(HeaderStreamTitle, string(m.Info.Title))
	h.Set(HeaderStreamAlbum, string(m.Info.Album))
	h.Set(HeaderStreamArtist, string(m.Info.Artist))
	h.Set(HeaderStreamAlbumArtist, string(m.Info.AlbumArtist))
	h.Set(HeaderStreamAlbumID, m.Info.AlbumID)
	h.Set(HeaderStreamGenre, string(m.Info.Genre))
	h.Set(HeaderStreamTrack, string(m.Info.Track))
	h.Set(HeaderStreamDisc, string(m.Info.Disc))
	h.Set(HeaderStreamDate, string(m.Info.Date))
	h.Set(HeaderStreamDuration, formatFloat(m.Info.Duration))
	h.Set(HeaderStreamComment, comment)
	h.Set(HeaderSliceNo, strconv.Itoa(m.SliceNo))
	h.Set(HeaderSliceOf, strconv.Itoa(m.SliceCount))
	h.Set(HeaderSliceDuration, formatFloat(m.SliceDuration))
	h.Set(HeaderPaymentProvider, m.Provider)
	h.Set(HeaderPaymentAccepted, strconv.FormatBool(m.Accepted))
	h.Set(HeaderPaymentRemaining, strconv.FormatInt(m.Remaining, 10))
	h.Set(HeaderPaymentPrice, strconv.FormatInt(m.Price, 10))
	h.Set(HeaderPaymentCollateral, strconv.FormatInt(m.Collateral, 10))
}

// ParseSliceMeta 读取切片协议响应头，缺失的数值头按零处理，缺少受理头时报错
func ParseSliceMeta(h http.Header) (*SliceMeta, error) {
	accepted := h.Get(HeaderPaymentAccepted)
	if accepted == "" {
		return nil, ErrMissingPaymentHeader
	}
	atoi := func(key string) int {
		v, _ := strconv.Atoi(h.Get(key))
		return v
	}
	atoi64 := func(key string) int64 {
		v, _ := strconv.ParseInt(h.Get(key), 10, 64)
		return v
	}
	atof := func(key string) float64 {
		v, _ := strconv.ParseFloat(h.Get(key), 64)
		return v
	}
	m := &SliceMeta{
		ServerVersion: h.Get(HeaderServerVersion),
		Mime:          h.Get("Content-Type"),
		TrackID:       atoi64(HeaderStreamID),
		Info: TrackInfo{
			Title:       Tag(h.Get(HeaderStreamTitle)),
			Album:       Tag(h.Get(HeaderStreamAlbum)),
			Artist:      Tag(h.Get(HeaderStreamArtist)),
			AlbumArtist: Tag(h.Get(HeaderStreamAlbumArtist)),
			AlbumID:     h.Get(HeaderStreamAlbumID),
			Genre:       Tag(h.Get(HeaderStreamGenre)),
			Track:       Tag(h.Get(HeaderStreamTrack)),
			Disc:        Tag(h.Get(HeaderStreamDisc)),
			Date:        Tag(h.Get(HeaderStreamDate)),
			Duration:    atof(HeaderStreamDuration),
		},
		SliceNo:       atoi(HeaderSliceNo),
		SliceCount:    atoi(HeaderSliceOf),
		SliceDuration: atof(HeaderSliceDuration),
		Provider:      h.Get(HeaderPaymentProvider),
		Accepted:      accepted == "true",
		Remaining:     atoi64(HeaderPaymentRemaining),
		Price:         atoi64(HeaderPaymentPrice),
		Collateral:    atoi64(HeaderPaymentCollateral),
	}
	if c := h.Get(HeaderStreamComment); c != "" {
		m.Info.Comment = &c
	}
	return m, nil
}
