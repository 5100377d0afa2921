// Package ranking recomputes the per-country language leaderboards and the
// geographic rollup documents from the contribution history embedded in user
// docs. Serving keys are replaced atomically so readers never see a
// half-built board
package ranking

import (
	"context"
	"fmt"
	"time"

	"gitrank/internal/core/keys"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/metrics"
)

// DefaultWindowMonths is the trailing contribution window
const DefaultWindowMonths = 24

// User is the slice of a user doc the ranking pass reads
type User struct {
	ID      string
	Country string
	City    string
	// Contrib maps language -> year -> month -> contribution count
	Contrib map[string]map[string]map[string]int64
}

// Scanner walks the users eligible for ranking: resolved country plus a
// contribution history
type Scanner interface {
	ScanUsers(ctx context.Context, fn func(u User) error) error
}

// Boards publishes one finished leaderboard under its serving key
type Boards interface {
	Publish(ctx context.Context, key string, members map[string]int64) error
}

// Rollups persists the aggregated geography documents
type Rollups interface {
	SaveCountry(ctx context.Context, doc GeoDoc) error
	SaveCity(ctx context.Context, doc GeoDoc) error
}

// Translator renders a display label in the rollup target language
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// GeoDoc is one country or city rollup
type GeoDoc struct {
	ID       string `bson:"_id"`
	Label    string `bson:"label"`
	Country  string `bson:"country,omitempty"`
	Users    int64  `bson:"users"`
	Activity int64  `bson:"activity"`
}

// Config for the ranking service
type Config struct {
	// WindowMonths is how far back contributions count
	WindowMonths int
	// TargetLang is the rollup label language; empty skips translation
	TargetLang string
}

// Service runs ranking passes
type Service struct {
	scan   Scanner
	boards Boards
	roll   Rollups
	trans  Translator
	ring   keys.Ring
	cfg    Config
	log    logger.Logger
}

// New constructs the ranking service. roll may be nil to skip the rollup
// half of a pass; trans may be nil when cfg.TargetLang is empty
func New(scan Scanner, boards Boards, roll Rollups, trans Translator, ring keys.Ring, cfg Config) *Service {
	if cfg.WindowMonths <= 0 {
		cfg.WindowMonths = DefaultWindowMonths
	}
	return &Service{
		scan:   scan,
		boards: boards,
		roll:   roll,
		trans:  trans,
		ring:   ring,
		cfg:    cfg,
		log:    *logger.Named("ranking"),
	}
}

// window returns the (year, month) field pairs of the trailing window ending
// at now's month
func window(now time.Time, months int) [][2]string {
	out := make([][2]string, 0, months)
	y, m := now.Year(), int(now.Month())
	for i := 0; i < months; i++ {
		out = append(out, [2]string{fmt.Sprintf("%04d", y), fmt.Sprintf("%02d", m)})
		m--
		if m == 0 {
			y, m = y-1, 12
		}
	}
	return out
}

func windowSum(byYear map[string]map[string]int64, win [][2]string) int64 {
	var sum int64
	for _, ym := range win {
		sum += byYear[ym[0]][ym[1]]
	}
	return sum
}

type geoAgg struct {
	users    int64
	activity int64
	cities   map[string]*geoAgg
}

// Publish runs one full ranking pass as of now: leaderboards per
// (country, language), then country and city rollups
func (s *Service) Publish(ctx context.Context, now time.Time) error {
	win := window(now, s.cfg.WindowMonths)
	boards := map[string]map[string]map[string]int64{}
	countries := map[string]*geoAgg{}

	err := s.scan.ScanUsers(ctx, func(u User) error {
		if u.Country == "" || len(u.Contrib) == 0 {
			return nil
		}
		var activity int64
		for lang, byYear := range u.Contrib {
			score := windowSum(byYear, win)
			if score <= 0 {
				continue
			}
			activity += score
			langs := boards[u.Country]
			if langs == nil {
				langs = map[string]map[string]int64{}
				boards[u.Country] = langs
			}
			members := langs[lang]
			if members == nil {
				members = map[string]int64{}
				langs[lang] = members
			}
			members[u.ID] = score
		}
		if activity == 0 {
			return nil
		}
		agg := countries[u.Country]
		if agg == nil {
			agg = &geoAgg{cities: map[string]*geoAgg{}}
			countries[u.Country] = agg
		}
		agg.users++
		agg.activity += activity
		if u.City != "" {
			city := agg.cities[u.City]
			if city == nil {
				city = &geoAgg{}
				agg.cities[u.City] = city
			}
			city.users++
			city.activity += activity
		}
		return nil
	})
	if err != nil {
		return err
	}

	for country, langs := range boards {
		for lang, members := range langs {
			key := s.ring.CountryLangUsers(country, lang)
			if err := s.boards.Publish(ctx, key, members); err != nil {
				return err
			}
			metrics.RankPublishesTotal.Inc()
		}
	}

	return s.saveRollups(ctx, countries)
}

func (s *Service) saveRollups(ctx context.Context, countries map[string]*geoAgg) error {
	if s.roll == nil {
		return nil
	}
	for country, agg := range countries {
		doc := GeoDoc{
			ID:       country,
			Label:    s.label(ctx, country),
			Users:    agg.users,
			Activity: agg.activity,
		}
		if err := s.roll.SaveCountry(ctx, doc); err != nil {
			return err
		}
		for city, cagg := range agg.cities {
			cdoc := GeoDoc{
				ID:       country + "/" + city,
				Label:    s.label(ctx, city),
				Country:  country,
				Users:    cagg.users,
				Activity: cagg.activity,
			}
			if err := s.roll.SaveCity(ctx, cdoc); err != nil {
				return err
			}
		}
	}
	return nil
}

// label translates a display name, falling back to the original on any
// translator failure
func (s *Service) label(ctx context.Context, name string) string {
	if s.cfg.TargetLang == "" || s.trans == nil {
		return name
	}
	out, err := s.trans.Translate(ctx, name, s.cfg.TargetLang)
	if err != nil || out == "" {
		s.log.Warn().Err(err).Str("name", name).Msg("label translation failed")
		return name
	}
	return out
}
