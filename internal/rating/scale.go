package rating

import (
	"fmt"
	"math/rand/v2"

	"github.com/dustin/go-humanize"
)

// Labels name a scale in command replies.
type Labels struct {
	// Tally is the plural subject, e.g. "Segue ratings".
	Tally string
	// Inference names the auto-start toggle, e.g. "Segue inference".
	Inference string
}

// Scale is what differs between the round kinds: how a vote is read from a
// message and how a successful round is announced.
type Scale interface {
	Kind() string
	Labels() Labels
	Extract(text string) (float64, bool)
	// Report formats the announcement and returns the value to persist.
	Report(t Tally) (text string, value float64)
	// Query answers kind-specific read-only subcommands.
	Query(sub string) (string, bool)
}

// Picker chooses one of options.
type Picker func(options []string) string

func RandomPick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[rand.IntN(len(options))]
}

var (
	segueAwful = []string{
		"yikes, %s .. unPOGGERS",
		"awful one, %s :(",
		"that wasn't very, uhm .. good, %s Concerned",
	}
	segueBad = []string{
		"sorry, %s .. :/",
		"uhm .. good try, %s PoroSad",
		"not .. great, %s .. Okayyy Clap",
	}
	segueGood = []string{
		"not bad, %s ! :D",
		"nice, %s ! peepoPog Clap",
		"good one, %s ! hasScoot",
	}
	segueGreat = []string{
		"incredible, %s !! pepoDance",
		"holy smokes, %s !! :O",
		"wowieee, %s !! peepoExcite",
	}
	PositiveEmotes = []string{"Gladge", "FeelsOkayMan", "widepeepoHappy", "POGGERS", "PogU", "peepoPog", "hasSoy"}

	roleplayUp   = []string{"FeelsSnowyMan", ":D", "Gladge", "veryCat", "FeelsOkayMan"}
	roleplayDown = []string{"FeelsSnowMan", ":(", "Sadge", "Awkward", "FeelsBadMan"}
)

// Segue averages 0-10 ratings of ad segues.
type Segue struct {
	Nickname string
	Peak     *Peak
	Pick     Picker
}

func NewSegue(nickname string, peak *Peak, pick Picker) *Segue {
	if peak == nil {
		peak = NewPeak(0)
	}
	if pick == nil {
		pick = RandomPick
	}
	return &Segue{Nickname: nickname, Peak: peak, Pick: pick}
}

func (s *Segue) Kind() string { return "segue" }

func (s *Segue) Labels() Labels {
	return Labels{Tally: "Segue ratings", Inference: "Segue inference"}
}

func (s *Segue) Extract(text string) (float64, bool) { return Extract(text) }

func (s *Segue) Report(t Tally) (string, float64) {
	avg := t.Mean()
	return fmt.Sprintf("DANKIES 🔔 %s chatters rated this ad segue an average of %.2f/10 - %s",
		humanize.Comma(int64(t.Count)), avg, s.reaction(avg, s.Peak.Observe(avg))), avg
}

func (s *Segue) reaction(avg float64, best bool) string {
	if best {
		return fmt.Sprintf("best one today, %s !! %s", s.Nickname, s.Pick(PositiveEmotes))
	}
	var band []string
	switch {
	case avg <= 2.5:
		band = segueAwful
	case avg <= 5:
		band = segueBad
	case avg <= 7.5:
		band = segueGood
	default:
		band = segueGreat
	}
	return fmt.Sprintf(s.Pick(band), s.Nickname)
}

func (s *Segue) Query(sub string) (string, bool) {
	if sub != "peak" {
		return "", false
	}
	v, ok := s.Peak.Value()
	if !ok {
		return "No ad segue has been rated yet", true
	}
	return fmt.Sprintf("The best ad segue so far averaged %.2f/10", v), true
}

// Roleplay sums +1/-1 scores into a running total.
type Roleplay struct {
	Nickname    string
	Broadcaster string
	Since       string
	Total       *Total
	Pick        Picker
}

func NewRoleplay(nickname, broadcaster, since string, total *Total, pick Picker) *Roleplay {
	if total == nil {
		total = NewTotal(0)
	}
	if pick == nil {
		pick = RandomPick
	}
	return &Roleplay{Nickname: nickname, Broadcaster: broadcaster, Since: since, Total: total, Pick: pick}
}

func (r *Roleplay) Kind() string { return "roleplay" }

func (r *Roleplay) Labels() Labels {
	return Labels{Tally: "Roleplay scores", Inference: "Roleplay moment inference"}
}

func (r *Roleplay) Extract(text string) (float64, bool) {
	v, ok := ExtractScore(text)
	return float64(v), ok
}

func (r *Roleplay) Report(t Tally) (string, float64) {
	delta := int(t.Sum)
	total := r.Total.Add(delta)

	verb := "gained"
	if delta < 0 {
		verb = "lost"
	}
	emotes := roleplayDown
	if total > 0 {
		emotes = roleplayUp
	}
	return fmt.Sprintf("donScoot 🔔 %s %s %s points for this roleplay moment - %s has %s points in total %s",
		r.Nickname, verb, signedComma(delta), r.Nickname, humanize.Comma(int64(total)), r.Pick(emotes)), float64(delta)
}

func (r *Roleplay) Query(sub string) (string, bool) {
	if sub != "total" {
		return "", false
	}
	text := fmt.Sprintf("%s has accrued %s roleplay points", r.Broadcaster, humanize.Comma(int64(r.Total.Value())))
	if r.Since != "" {
		text += " since " + r.Since
	}
	return text, true
}

func signedComma(n int) string {
	if n < 0 {
		return humanize.Comma(int64(n))
	}
	return "+" + humanize.Comma(int64(n))
}
