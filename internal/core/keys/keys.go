// Package keys builds the namespaced key names shared by the counter store,
// the slice tracker, the crawler, and the ranking engine. Every consumer goes
// through one Ring so the prefix is applied exactly once
package keys

import "fmt"

// DefaultPrefix namespaces every key in the counter store
const DefaultPrefix = "gtr"

// Ring issues fully-prefixed key names
type Ring struct{ prefix string }

// New returns a Ring with the given prefix; empty means DefaultPrefix
func New(prefix string) Ring {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Ring{prefix: prefix}
}

// Fmt joins key under the ring prefix
func (r Ring) Fmt(key string) string { return r.prefix + ":" + key }

// Global histogram and total keys

// Total is the global event counter
func (r Ring) Total() string { return r.Fmt("total") }

// Day is the global per-weekday histogram hash
func (r Ring) Day() string { return r.Fmt("day") }

// Hour is the global per-hour-of-day histogram hash
func (r Ring) Hour() string { return r.Fmt("hour") }

// Month is the global per-month histogram hash
func (r Ring) Month() string { return r.Fmt("month") }

// Users is the global per-user activity sorted set
func (r Ring) Users() string { return r.Fmt("user") }

// Events is the global per-event-type sorted set
func (r Ring) Events() string { return r.Fmt("event") }

// Repos is the global per-repository sorted set
func (r Ring) Repos() string { return r.Fmt("repo") }

// Langs is the global per-language sorted set
func (r Ring) Langs() string { return r.Fmt("lang") }

// LangPushes is the per-language push-event sorted set
func (r Ring) LangPushes() string { return r.Fmt("pushes:lang") }

// Per-event-type histograms

// EventDay is the per-weekday histogram for one event type
func (r Ring) EventDay(evt string) string { return r.Fmt("event:" + evt + ":day") }

// EventHour is the per-hour histogram for one event type
func (r Ring) EventHour(evt string) string { return r.Fmt("event:" + evt + ":hour") }

// EventMonth is the per-month histogram for one event type
func (r Ring) EventMonth(evt string) string { return r.Fmt("event:" + evt + ":month") }

// Social graph

// SocialUser holds the repositories a user touches, weighted by event count
func (r Ring) SocialUser(user string) string { return r.Fmt("social:user:" + user) }

// SocialRepo holds the users touching a repository, weighted by event count
func (r Ring) SocialRepo(repo string) string { return r.Fmt("social:repo:" + repo) }

// Leaderboards

// LangUsers is the world leaderboard for one language
func (r Ring) LangUsers(lang string) string { return r.Fmt("lang:" + lang + ":user") }

// CountryLangUsers is the per-country leaderboard for one language
func (r Ring) CountryLangUsers(country, lang string) string {
	return r.Fmt(fmt.Sprintf("country:%s.lang:%s:user", country, lang))
}

// Slice tracker

// FuncSlices is the set of completed hour slices for one aggregation function
func (r Ring) FuncSlices(fn string) string { return r.Fmt("function:" + fn) }

// FuncBatches is the set of completed in-flight batches for one aggregation function
func (r Ring) FuncBatches(fn string) string { return r.Fmt("function:" + fn + ":index") }

// Admission and quota latches

// Concurrency is the cross-process admission counter for a named task
func (r Ring) Concurrency(task string) string { return r.Fmt("func:concurrency:" + task) }

// GeoQuota is the geocoder over-quota latch (set with a TTL)
func (r Ring) GeoQuota() string { return r.Fmt("google_usage_limit") }

// TransCache is the translation cache hash for one target language
func (r Ring) TransCache(target string) string { return r.Fmt("trans:" + target) }
