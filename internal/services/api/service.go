package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"gitrank/internal/core/keys"
	perr "gitrank/internal/platform/errors"
)

// Boards reads published leaderboards
type Boards interface {
	// Page returns board members by descending score
	Page(ctx context.Context, key string, start, stop int64) ([]string, error)
	// Size returns the board cardinality
	Size(ctx context.Context, key string) (int64, error)
	// Rank returns the zero-based descending rank of a member; ok is false
	// when the member is not on the board
	Rank(ctx context.Context, key, member string) (int64, bool, error)
}

// Docs reads the serving documents
type Docs interface {
	User(ctx context.Context, id string) (UserDoc, bool, error)
	// UserCard is the trimmed projection joined into leaderboard rows
	UserCard(ctx context.Context, id string) (UserDoc, bool, error)
	// TopLanguages returns language ids by descending value of one month
	// field, e.g. "month.2013.05"
	TopLanguages(ctx context.Context, monthField string, limit int64) ([]string, error)
}

// Config for the api service
type Config struct {
	DefaultCountry  string
	DefaultLanguage string
	LanguagesLimit  int64
}

// Service answers the read-side queries
type Service struct {
	boards   Boards
	docs     Docs
	ring     keys.Ring
	cfg      Config
	validate *validator.Validate
}

// New constructs the api service
func New(boards Boards, docs Docs, ring keys.Ring, cfg Config) *Service {
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "China"
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "JavaScript"
	}
	if cfg.LanguagesLimit <= 0 {
		cfg.LanguagesLimit = 20
	}
	return &Service{
		boards:   boards,
		docs:     docs,
		ring:     ring,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Rank returns one leaderboard page. A board that does not exist yet is an
// empty page
func (s *Service) Rank(ctx context.Context, q RankQuery) (RankPage, error) {
	if q.Country == "" {
		q.Country = s.cfg.DefaultCountry
	}
	if q.Language == "" {
		q.Language = s.cfg.DefaultLanguage
	}
	if q.PageCount == 0 {
		q.PageCount = 50
	}
	if err := s.validate.Struct(q); err != nil {
		return RankPage{}, perr.Wrapf(err, perr.ErrorCodeValidation, "bad rank query")
	}

	key := s.ring.CountryLangUsers(q.Country, q.Language)
	total, err := s.boards.Size(ctx, key)
	if err != nil {
		return RankPage{}, err
	}
	page := RankPage{
		Pages:     (total + q.PageCount - 1) / q.PageCount,
		Page:      q.Page,
		PageCount: q.PageCount,
		Language:  q.Language,
		Country:   q.Country,
		Data:      []RankedUser{},
	}
	if total == 0 {
		return page, nil
	}

	start := q.Page * q.PageCount
	ids, err := s.boards.Page(ctx, key, start, start+q.PageCount-1)
	if err != nil {
		return RankPage{}, err
	}
	worldKey := s.ring.LangUsers(q.Language)
	for i, id := range ids {
		card, ok, err := s.docs.UserCard(ctx, id)
		if err != nil {
			return RankPage{}, err
		}
		if !ok {
			card = UserDoc{ID: id}
		}
		row := RankedUser{
			UserDoc: card,
			Rank:    map[string]int64{q.Country: start + int64(i) + 1},
		}
		if wr, ok, err := s.boards.Rank(ctx, worldKey, id); err != nil {
			return RankPage{}, err
		} else if ok {
			row.Rank["world"] = wr + 1
		}
		page.Data = append(page.Data, row)
	}
	return page, nil
}

// User returns one user profile with per-language ranks
func (s *Service) User(ctx context.Context, id string) (UserProfile, error) {
	doc, ok, err := s.docs.User(ctx, id)
	if err != nil {
		return UserProfile{}, err
	}
	if !ok {
		return UserProfile{}, perr.NotFoundf("user %s", id)
	}

	profile := UserProfile{UserDoc: doc, Rank: map[string]map[string]int64{}}
	country, _ := doc.Loc["country"].(string)
	for lang := range doc.Contrib {
		if wr, ok, err := s.boards.Rank(ctx, s.ring.LangUsers(lang), id); err != nil {
			return UserProfile{}, err
		} else if ok {
			scope(profile.Rank, "world")[lang] = wr + 1
		}
		if country == "" {
			continue
		}
		key := s.ring.CountryLangUsers(country, lang)
		if cr, ok, err := s.boards.Rank(ctx, key, id); err != nil {
			return UserProfile{}, err
		} else if ok {
			scope(profile.Rank, country)[lang] = cr + 1
		}
	}
	return profile, nil
}

func scope(rank map[string]map[string]int64, name string) map[string]int64 {
	m := rank[name]
	if m == nil {
		m = map[string]int64{}
		rank[name] = m
	}
	return m
}

// Languages returns the most active languages of the calendar month before
// now
func (s *Service) Languages(ctx context.Context, now time.Time) ([]string, error) {
	year, month := now.Year(), int(now.Month())-1
	if month == 0 {
		year, month = year-1, 12
	}
	field := fmt.Sprintf("month.%04d.%02d", year, month)
	langs, err := s.docs.TopLanguages(ctx, field, s.cfg.LanguagesLimit)
	if err != nil {
		return nil, err
	}
	if langs == nil {
		langs = []string{}
	}
	return langs, nil
}
