// Package tally turns decoded activity events into the increment fan-out the
// counter store and the document store consume. It is pure bookkeeping: a
// Batch accumulates deltas in memory and the ingest service decides how they
// are flushed
package tally

import (
	"fmt"
	"strings"

	"gitrank/internal/adapters/archive"
	"gitrank/internal/core/keys"
)

// contribution marks the event types that count toward language rankings
var contribution = map[string]bool{
	"IssuesEvent":      true,
	"PullRequestEvent": true,
	"PushEvent":        true,
}

// IsContribution reports whether an event type counts toward language rankings
func IsContribution(evttype string) bool { return contribution[evttype] }

// UserDelta is the pending update for one user document
type UserDelta struct {
	// Inc maps dotted field paths to increments
	Inc map[string]int64
	// Repos maps full repo names to the event count to fold into the
	// user's repo association list
	Repos map[string]int64
}

// DocDelta is the pending update for one repository or language document
type DocDelta struct {
	Inc map[string]int64
}

// Batch accumulates the fan-out for a run of events from one hour slice
type Batch struct {
	Slice archive.SliceRef
	ring  keys.Ring

	// Counters, Hashes and ZSets are the pending counter-store writes:
	// INCRBY, HINCRBY and ZINCRBY respectively, keyed by full key name
	Counters map[string]int64
	Hashes   map[string]map[string]int64
	ZSets    map[string]map[string]int64

	Users     map[string]*UserDelta
	Repos     map[string]*DocDelta
	Languages map[string]*DocDelta

	// Counted is the number of events folded in after filtering
	Counted int
	// Skipped is the number of events dropped by the actor filter
	Skipped int
}

// NewBatch creates an empty Batch for one slice
func NewBatch(ring keys.Ring, slice archive.SliceRef) *Batch {
	return &Batch{
		Slice:     slice,
		ring:      ring,
		Counters:  map[string]int64{},
		Hashes:    map[string]map[string]int64{},
		ZSets:     map[string]map[string]int64{},
		Users:     map[string]*UserDelta{},
		Repos:     map[string]*DocDelta{},
		Languages: map[string]*DocDelta{},
	}
}

func (b *Batch) incr(key string, n int64) { b.Counters[key] += n }

func (b *Batch) hincr(key, field string, n int64) {
	h := b.Hashes[key]
	if h == nil {
		h = map[string]int64{}
		b.Hashes[key] = h
	}
	h[field] += n
}

func (b *Batch) zincr(key, member string, n int64) {
	z := b.ZSets[key]
	if z == nil {
		z = map[string]int64{}
		b.ZSets[key] = z
	}
	z[member] += n
}

func (b *Batch) user(key string) *UserDelta {
	u := b.Users[key]
	if u == nil {
		u = &UserDelta{Inc: map[string]int64{}, Repos: map[string]int64{}}
		b.Users[key] = u
	}
	return u
}

func (b *Batch) doc(m map[string]*DocDelta, key string) *DocDelta {
	d := m[key]
	if d == nil {
		d = &DocDelta{Inc: map[string]int64{}}
		m[key] = d
	}
	return d
}

// Add folds one event into the batch. Events without an individual actor
// (anonymous or organization activity) are dropped and counted in Skipped
func (b *Batch) Add(ev archive.Event) {
	if ev.Actor == "" || ev.ActorAttrs.Type != "User" {
		b.Skipped++
		return
	}
	b.Counted++

	user := strings.ToLower(ev.Actor)
	evttype := ev.Type
	weekday := b.Slice.Weekday()
	hourField := fmt.Sprintf("%d", b.Slice.Hour)
	yearMonth := b.Slice.YearMonth()
	const n = int64(1)

	// global histograms
	b.incr(b.ring.Total(), n)
	b.hincr(b.ring.Day(), weekday, n)
	b.hincr(b.ring.Hour(), hourField, n)
	b.hincr(b.ring.Month(), yearMonth, n)
	b.zincr(b.ring.Users(), user, n)
	b.zincr(b.ring.Events(), evttype, n)

	// per-event-type histograms
	b.hincr(b.ring.EventDay(evttype), weekday, n)
	b.hincr(b.ring.EventHour(evttype), hourField, n)
	b.hincr(b.ring.EventMonth(evttype), yearMonth, n)

	// user schedule histograms
	u := b.user(user)
	hh := fmt.Sprintf("%02d", b.Slice.Hour)
	ym := fmt.Sprintf("%04d.%02d", b.Slice.Year, b.Slice.Month)
	u.Inc["total"] += n
	u.Inc["day."+weekday] += n
	u.Inc["hour."+hh] += n
	u.Inc["month."+ym] += n
	u.Inc["event."+evttype+".day."+weekday] += n
	u.Inc["event."+evttype+".hour."+hh] += n
	u.Inc["event."+evttype+".month."+ym] += n

	repoName := ev.Repository.FullName()
	if repoName == "" {
		return
	}

	// social graph
	b.zincr(b.ring.Repos(), repoName, n)
	b.zincr(b.ring.SocialUser(user), repoName, n)
	b.zincr(b.ring.SocialRepo(repoName), user, n)
	u.Repos[repoName] += n

	r := b.doc(b.Repos, repoName)
	r.Inc["total"] += n
	r.Inc["events."+evttype] += n
	r.Inc["users."+user] += n

	lang := ev.Repository.Language
	if lang == "" {
		return
	}

	b.zincr(b.ring.Langs(), lang, n)
	u.Inc["lang."+lang] += n

	l := b.doc(b.Languages, lang)
	l.Inc["total"] += n
	l.Inc["events."+evttype] += n
	l.Inc["month."+ym] += n

	if IsContribution(evttype) {
		b.zincr(b.ring.LangUsers(lang), user, n)
		u.Inc["contrib."+lang+"."+ym] += n
		if evttype == "PushEvent" {
			b.zincr(b.ring.LangPushes(), lang, n)
		}
	}
}

// Len is the number of events folded in so far
func (b *Batch) Len() int { return b.Counted }

// Empty reports whether the batch carries no pending writes
func (b *Batch) Empty() bool { return b.Counted == 0 }
