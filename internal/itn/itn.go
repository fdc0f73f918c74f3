package itn

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// idioms are fixed expressions that contain numeral characters but must never be converted
var idioms = strings.Fields(`
正经八百 五零二落 五零四散
五十步笑百步 乌七八糟 污七八糟 四百四病 思绪万千
十有八九 十之八九 三十而立 三十六策 三十六计 三十六行
三五成群 三百六十行 三六九等
七老八十 七零八落 七零八碎 七七八八 乱七八遭 乱七八糟 略知一二 零零星星 零七八碎
九九归一 二三其德 二三其意 无银三百两 八九不离十
百分之百 年三十 烂七八糟 一点一滴 路易十六 九三学社 五四运动 入木三分
`)

// scanPattern finds maximal runs that may hold a spoken numeral.
//
//	head  optional ASCII letter prefix such as a list marker
//	run   numeral characters, "分之", and date markers right after a digit
//	tail  a unit right after a digit, or a letter after "digit space"
//
// Without head or tail the run must continue with at least one more numeral
// character, so single characters like "十" in running text are ignored.
var scanPattern = regexp2.MustCompile(
	`(?<head>[a-z]\s*)?`+
		`(?<run>`+
		`(?:[零幺一二两三四五六七八九十百千万点比]|[零一二三四五六七八九十][ ]|(?<=[一二两三四五六七八九十])[年月日号分]|分之)+`+
		`(?<tail>(?<=[一二两三四五六七八九十])[a-zA-Z年月日号`+commonUnits+`]|(?<=[一二两三四五六七八九十]\s)[a-zA-Z])?`+
		`(?(head)|(?(tail)|(?:[零幺一二两三四五六七八九十百千万亿点比]|分之)+))`+
		`)`,
	regexp2.IgnoreCase)

// Normalize rewrites every spoken numeral run in text into Arabic numerals.
// Runs that overlap an idiom, do not fit any numeral shape, or fail to convert
// are left untouched.
func Normalize(text string) string {
	if text == "" {
		return text
	}
	spans := idiomSpans(text)

	out, err := scanPattern.ReplaceFunc(text, func(m regexp2.Match) string {
		return replaceRun(m, spans)
	}, -1, -1)
	if err != nil {
		return text
	}
	return out
}

func replaceRun(m regexp2.Match, spans []span) (final string) {
	whole := m.String()
	defer func() {
		if r := recover(); r != nil {
			final = whole
		}
	}()

	run := m.GroupByName("run")
	if run == nil || run.Length == 0 {
		return whole
	}
	if overlapsAny(spans, run.Index, run.Index+run.Length) {
		return whole
	}

	head := ""
	if g := m.GroupByName("head"); g != nil && len(g.Captures) > 0 {
		head = g.String()
	}

	converted, err := Convert(Classify(run.String()), run.String())
	if err != nil {
		return whole
	}
	return head + converted
}

// span is a half-open rune range
type span struct {
	start, end int
}

// idiomSpans returns the rune spans of every idiom occurrence in text
func idiomSpans(text string) []span {
	var spans []span
	for _, idiom := range idioms {
		offset := 0
		rest := text
		for {
			i := strings.Index(rest, idiom)
			if i < 0 {
				break
			}
			start := offset + len([]rune(rest[:i]))
			length := len([]rune(idiom))
			spans = append(spans, span{start: start, end: start + length})
			offset = start + length
			rest = rest[i+len(idiom):]
		}
	}
	return spans
}

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if s.start < end && start < s.end {
			return true
		}
	}
	return false
}
