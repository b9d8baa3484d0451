package research

// Research depth presets controlling how many angled sub-queries fan out.
const (
	DepthShallow = "shallow"
	DepthMedium  = "medium"
	DepthDeep    = "deep"
)

// SubQueryCount maps a depth preset to its fan-out. Unknown depths fall back
// to medium.
func SubQueryCount(depth string) int {
	switch depth {
	case DepthShallow:
		return 3
	case DepthDeep:
		return 8
	default:
		return 5
	}
}

// aspect templates angle a topic toward a specific kind of information. The
// %s placeholder is the topic; aspects repeat cyclically when the fan-out
// exceeds the vocabulary.
var aspectsByLanguage = map[string][]string{
	"en": {
		"overview and background of %s",
		"key facts and statistics about %s",
		"recent developments in %s",
		"expert opinions on %s",
		"history and origins of %s",
		"controversies and debates around %s",
		"future outlook for %s",
		"common misconceptions about %s",
	},
	"ar": {
		"نظرة عامة وخلفية عن %s",
		"حقائق وإحصائيات رئيسية حول %s",
		"آخر التطورات في %s",
		"آراء الخبراء حول %s",
		"تاريخ وأصول %s",
		"الجدل والنقاشات حول %s",
		"التوقعات المستقبلية لـ %s",
		"مفاهيم خاطئة شائعة عن %s",
	},
}

// aspects returns the template vocabulary for a language, defaulting to
// English.
func aspects(language string) []string {
	if v, ok := aspectsByLanguage[language]; ok {
		return v
	}
	return aspectsByLanguage["en"]
}
