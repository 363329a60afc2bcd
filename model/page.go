package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Page is the server's pagination envelope.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

func (p *Page[T]) HasNext() bool {
	return p != nil && p.Next != nil && *p.Next != ""
}

// DecodeList accepts either a bare JSON array or a Page envelope.  Several
// list endpoints (friends, users, stories) come back either way depending on
// server pagination settings.
func DecodeList[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("can't decode list: %w", err)
		}
		return out, nil
	}
	var page Page[T]
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("can't decode page: %w", err)
	}
	return page.Results, nil
}

type Story struct {
	ID        int64     `json:"id"`
	User      *User     `json:"user"`
	FileURL   *string   `json:"file_url"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// StoryGroup is one author's stories, as shown in the story tray.
type StoryGroup struct {
	User    *User    `json:"user"`
	Stories []*Story `json:"stories"`
}

// GroupStoriesByUser groups stories by author, keeping authors in the order
// they first appear.
func GroupStoriesByUser(stories []*Story) []*StoryGroup {
	groups := []*StoryGroup{}
	byUser := map[int64]*StoryGroup{}
	for _, s := range stories {
		if s.User == nil {
			continue
		}
		g, ok := byUser[s.User.ID]
		if !ok {
			g = &StoryGroup{User: s.User}
			byUser[s.User.ID] = g
			groups = append(groups, g)
		}
		g.Stories = append(g.Stories, s)
	}
	return groups
}
