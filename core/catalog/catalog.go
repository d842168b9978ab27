// Package catalog 基于曲目索引响应搜索请求
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"SliceFM/model"
	"SliceFM/repository"
)

var ErrUnknownSearchType = errors.New("catalog: unknown search type")

// Catalog 基于曲目索引的搜索服务
type Catalog struct {
	repo           repository.TrackRepository
	provider       string
	maxListResults int
}

func New(repo repository.TrackRepository, provider string, maxListResults int) *Catalog {
	return &Catalog{repo: repo, provider: provider, maxListResults: maxListResults}
}

// Describe 生成返回给客户端的曲目描述
func (c *Catalog) Describe(t *model.Track) model.TrackDescriptor {
	d := model.TrackDescriptor{
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
		Cover:       model.CoverPath(t.Info.AlbumID),
		PPM:         t.PricePerMinute(),
		Provider:    c.provider,
	}
	if t.Info.Comment != nil {
		d.Comment = *t.Info.Comment
	}
	return d
}

func (c *Catalog) describeAll(tracks []*model.Track) []model.TrackDescriptor {
	out := make([]model.TrackDescriptor, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, c.Describe(t))
	}
	return out
}

// Search 按 req.Type 分派，结果为 []model.TrackDescriptor，专辑搜索时为 []model.Album
func (c *Catalog) Search(ctx context.Context, req model.SearchRequest) (interface{}, error) {
	switch req.Type {
	case model.SearchGeneralTitle:
		return c.Titles(ctx, req.Filters())
	case model.SearchAlbum:
		return c.Albums(ctx, req.SearchString)
	case model.SearchAlbumTitles:
		return c.AlbumTitles(ctx, req.AlbumID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSearchType, req.Type)
}

// Titles 按标签过滤：每个过滤标签都至少命中一个取值（不区分大小写）时匹配。
// 没有过滤条件时返回最新的 maxListResults 首曲目。
func (c *Catalog) Titles(ctx context.Context, filters map[string][]string) ([]model.TrackDescriptor, error) {
	tracks, err := c.repo.ListTracks(ctx)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		if c.maxListResults > 0 && len(tracks) > c.maxListResults {
			tracks = tracks[len(tracks)-c.maxListResults:]
		}
		return c.describeAll(tracks), nil
	}

	var matched []*model.Track
	for _, t := range tracks {
		if matches(t, filters) {
			matched = append(matched, t)
		}
	}
	return c.describeAll(matched), nil
}

func matches(t *model.Track, filters map[string][]string) bool {
	for tag, values := range filters {
		v, ok := t.Info.Tag(tag)
		if !ok {
			return false
		}
		v = strings.ToLower(v)
		found := false
		for _, want := range values {
			if strings.Contains(v, strings.ToLower(want)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Albums 返回名称包含 searchString 的专辑，专辑由曲目按 albumID 去重得到
func (c *Catalog) Albums(ctx context.Context, searchString string) ([]model.Album, error) {
	tracks, err := c.repo.ListTracks(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(searchString)
	seen := make(map[string]bool)
	albums := make([]model.Album, 0)
	for _, t := range tracks {
		if seen[t.Info.AlbumID] {
			continue
		}
		seen[t.Info.AlbumID] = true
		if !strings.Contains(strings.ToLower(string(t.Info.Album)), needle) {
			continue
		}
		albums = append(albums, model.Album{
			AlbumID:  t.Info.AlbumID,
			Album:    string(t.Info.Album),
			Artist:   string(t.Info.AlbumArtist),
			Date:     string(t.Info.Date),
			Genre:    string(t.Info.Genre),
			Cover:    model.CoverPath(t.Info.AlbumID),
			Provider: c.provider,
		})
	}
	return albums, nil
}

// AlbumTitles 返回专辑内的曲目
func (c *Catalog) AlbumTitles(ctx context.Context, albumID string) ([]model.TrackDescriptor, error) {
	tracks, err := c.repo.ListTracks(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*model.Track
	for _, t := range tracks {
		if t.Info.AlbumID == albumID {
			matched = append(matched, t)
		}
	}
	return c.describeAll(matched), nil
}
