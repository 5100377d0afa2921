// Package api serves the read side: leaderboard pages, user profiles with
// ranks, and the language index. It only ever reads published keys and docs,
// so an empty system yields empty pages rather than errors
package api

// RankQuery is the decoded /rank query string
type RankQuery struct {
	Country   string `validate:"required,max=64"`
	Language  string `validate:"required,max=64"`
	Page      int64  `validate:"gte=0"`
	PageCount int64  `validate:"gte=1,lte=100"`
}

// UserDoc is the serving slice of a user document
type UserDoc struct {
	ID      string                                 `bson:"_id" json:"id"`
	Info    map[string]any                         `bson:"info,omitempty" json:"info,omitempty"`
	Loc     map[string]any                         `bson:"loc,omitempty" json:"loc,omitempty"`
	Contrib map[string]map[string]map[string]int64 `bson:"contrib,omitempty" json:"contrib,omitempty"`
}

// RankedUser is one leaderboard row: the user card plus its position on the
// requested board and on the world board
type RankedUser struct {
	UserDoc
	Rank map[string]int64 `json:"rank"`
}

// RankPage is one page of a (country, language) leaderboard
type RankPage struct {
	Pages     int64        `json:"pages"`
	Page      int64        `json:"page"`
	PageCount int64        `json:"page_count"`
	Language  string       `json:"language"`
	Country   string       `json:"country"`
	Data      []RankedUser `json:"data"`
}

// UserProfile is a full user doc plus per-language ranks, grouped by scope
// ("world" and, when the user has a resolved country, that country)
type UserProfile struct {
	UserDoc
	Rank map[string]map[string]int64 `json:"rank"`
}
