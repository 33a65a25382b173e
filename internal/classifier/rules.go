package classifier

import (
	"regexp"
	"strings"

	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// topicRule is one entry in the priority-ordered topic table. The first rule
// whose predicate matches decides the topic.
type topicRule struct {
	name  string
	match func(caption string) bool
	topic taxonomy.Topic
}

// keywordRule scores a topic by the number of pattern matches in a caption.
type keywordRule struct {
	topic   taxonomy.Topic
	pattern *regexp.Regexp
}

// versusPattern matches "word vs word" and "word versus word".
var versusPattern = regexp.MustCompile(`(?i)\b\w+\s+(?:vs\.?|versus)\s+\w+`)

// flagVersusPattern matches two flag emoji (regional indicator pairs) around vs/versus.
var flagVersusPattern = regexp.MustCompile(`(?i)[\x{1F1E6}-\x{1F1FF}]{2}\s*(?:vs\.?|versus)\s*[\x{1F1E6}-\x{1F1FF}]{2}`)

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

// sportsHashtags are league and tournament tags (lowercase, without '#').
var sportsHashtags = map[string]bool{
	"nba": true, "nfl": true, "mlb": true, "nhl": true, "mls": true,
	"ucl": true, "uel": true, "epl": true, "premierleague": true,
	"laliga": true, "seriea": true, "bundesliga": true, "ligue1": true,
	"afcon": true, "fifa": true, "worldcup": true, "euro2024": true, "copaamerica": true,
	"f1": true, "formula1": true, "motogp": true, "ufc": true, "wwe": true,
	"ipl": true, "t20": true, "wimbledon": true, "usopen": true, "olympics": true,
	"superbowl": true, "marchmadness": true,
}

func hasSportsHashtag(caption string) bool {
	for _, m := range hashtagPattern.FindAllStringSubmatch(caption, -1) {
		if sportsHashtags[strings.ToLower(m[1])] {
			return true
		}
	}
	return false
}

// priorityRules run before keyword scoring.
var priorityRules = []topicRule{
	{name: "versus", match: versusPattern.MatchString, topic: taxonomy.Social},
	{name: "sports-hashtag", match: hasSportsHashtag, topic: taxonomy.Social},
	{name: "flag-versus", match: flagVersusPattern.MatchString, topic: taxonomy.Social},
}

// keywordRules are declared in tie-break order: Social > Educational >
// Entertainment > Informative.
var keywordRules = []keywordRule{
	{
		topic: taxonomy.Social,
		pattern: regexp.MustCompile(`(?i)\b(?:friends?|family|party|wedding|birthday|together|community|hangout|couple|yoga|wellness|fitness|workout|gym|meditat\w*|selfcare|self-care|match|team|fans?|derby)\b`),
	},
	{
		topic: taxonomy.Educational,
		pattern: regexp.MustCompile(`(?i)\b(?:learn\w*|how to|tutorial|tips?|guide|explained|explain\w*|lesson|study|science|history|facts?|course|lecture|diy|step by step)\b`),
	},
	{
		topic: taxonomy.Entertainment,
		pattern: regexp.MustCompile(`(?i)\b(?:fun|funny|lol|lmao|meme|movie|film|music|song|dance|comedy|prank|gaming|gameplay|trailer|challenge|vibes|concert|celebrity|reaction)\b`),
	},
	{
		topic: taxonomy.Informative,
		pattern: regexp.MustCompile(`(?i)\b(?:news|breaking|election|update|report|announced?|official|analysis|market|economy|policy|government|today|headlines?)\b`),
	},
}

var (
	positivePattern   = regexp.MustCompile(`(?i)\b(?:amazing|awesome|love\w*|happy|beautiful|great|best|wonderful|relax\w*|joy\w*|excit\w*|grateful|blessed|perfect|incredible|inspir\w*)\b`)
	negativePattern   = regexp.MustCompile(`(?i)\b(?:sad|angry|hate\w*|terrible|awful|worst|tragic|tragedy|death|died|killed|war|crisis|disaster|scary|fear|depress\w*|horrible|lonely)\b`)
	reflectivePattern = regexp.MustCompile(`(?i)\b(?:think\w*|reflect\w*|consider\w*|understand\w*|why|meaning|perspective|insight\w*|lesson|mindful\w*|realize\w*|wonder\w*)\b`)
)

// defaultTopicMinChars is the caption length above which unmatched captions
// default to Entertainment instead of Social.
const defaultTopicMinChars = 10

// Engagement thresholds.
const (
	mindfulMinChars   = 100
	mindfulMinDwellMs = 15_000
	mindlessMaxDwell  = 3_000
	mindlessMaxChars  = 20
)
