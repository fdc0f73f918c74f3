package itn

import (
	"fmt"
	"strconv"
	"strings"
)

// digitMapper maps numeral characters to digits for digit-by-digit conversion
var digitMapper = map[rune]string{
	'零': "0",
	'一': "1",
	'幺': "1",
	'二': "2",
	'两': "2",
	'三': "3",
	'四': "4",
	'五': "5",
	'六': "6",
	'七': "7",
	'八': "8",
	'九': "9",
	'点': ".",
}

// valueMapper maps numeral and multiplier characters to their values
var valueMapper = map[rune]int{
	'零': 0,
	'一': 1,
	'二': 2,
	'两': 2,
	'三': 3,
	'四': 4,
	'五': 5,
	'六': 6,
	'七': 7,
	'八': 8,
	'九': 9,
	'十': 10,
	'百': 100,
	'千': 1000,
	'万': 10000,
}

// stripUnit splits a run into its numeral part and the trailing unit
func stripUnit(original string) (string, string) {
	stripped := strings.TrimSpace(strings.Trim(original, commonUnits+asciiLetters))
	if stripped == original {
		return stripped, ""
	}
	runes := []rune(original)
	n := len([]rune(stripped))
	if n > len(runes) {
		n = len(runes)
	}
	return stripped, string(runes[n:])
}

// convertPureDigits maps every character digit by digit.
// A lone "一" is left alone unless strict, since it is usually the word "one".
func convertPureDigits(original string, strict bool) (string, error) {
	stripped, unit := stripUnit(original)
	if stripped == "一" && !strict {
		return original, nil
	}

	var b strings.Builder
	for _, c := range stripped {
		d, ok := digitMapper[c]
		if !ok {
			return "", fmt.Errorf("unexpected character %q in digit sequence %q", c, original)
		}
		b.WriteString(d)
	}
	b.WriteString(unit)
	return b.String(), nil
}

// convertValue evaluates a positional numeral with an optional decimal part
func convertValue(original string) (string, error) {
	stripped, unit := stripUnit(original)
	if !strings.Contains(stripped, "点") {
		stripped += "点"
	}
	parts := strings.Split(stripped, "点")
	if len(parts) != 2 {
		return "", fmt.Errorf("more than one decimal marker in %q", original)
	}
	intPart, decimalPart := parts[0], parts[1]
	// "点一" on its own has no integer part and is not a number
	if intPart == "" {
		return original, nil
	}

	value, temp, base := 0, 0, 1
	for _, c := range intPart {
		switch {
		case c == '十':
			if temp == 0 {
				temp = 10
			} else {
				temp *= valueMapper[c]
			}
			base = 1
		case c == '零':
			base = 1
		case strings.ContainsRune("一二两三四五六七八九", c):
			temp += valueMapper[c]
		case c == '万':
			value += temp
			value *= valueMapper[c]
			base = valueMapper[c] / 10
			temp = 0
		case c == '百' || c == '千':
			value += temp * valueMapper[c]
			base = valueMapper[c] / 10
			temp = 0
		}
	}
	value += temp * base

	final := strconv.Itoa(value)
	decimal, err := convertPureDigits(decimalPart, true)
	if err != nil {
		return "", err
	}
	if decimal != "" {
		final += "." + decimal
	}
	return final + unit, nil
}

// convertFraction handles "denominator 分之 numerator" and emits numerator/denominator
func convertFraction(original string) (string, error) {
	denominator, numerator, ok := strings.Cut(original, "分之")
	if !ok {
		return "", fmt.Errorf("missing fraction marker in %q", original)
	}
	num, err := convertValue(numerator)
	if err != nil {
		return "", err
	}
	den, err := convertValue(denominator)
	if err != nil {
		return "", err
	}
	return num + "/" + den, nil
}

func convertPercent(original string) (string, error) {
	rest, ok := strings.CutPrefix(original, "百分之")
	if !ok {
		return "", fmt.Errorf("missing percent marker in %q", original)
	}
	value, err := convertValue(rest)
	if err != nil {
		return "", err
	}
	return value + "%", nil
}

func convertRatio(original string) (string, error) {
	left, right, ok := strings.Cut(original, "比")
	if !ok {
		return "", fmt.Errorf("missing ratio marker in %q", original)
	}
	l, err := convertValue(left)
	if err != nil {
		return "", err
	}
	r, err := convertValue(right)
	if err != nil {
		return "", err
	}
	return l + ":" + r, nil
}

// convertTime joins hour, minute and optional second with colons
func convertTime(original string) (string, error) {
	parts := strings.FieldsFunc(original, func(r rune) bool {
		return r == '点' || r == '分' || r == '秒'
	})
	if len(parts) < 2 {
		return "", fmt.Errorf("incomplete clock time %q", original)
	}

	var b strings.Builder
	for i, part := range parts {
		if i > 3 {
			break
		}
		if i == 3 {
			frac, err := convertPureDigits(part, false)
			if err != nil {
				return "", err
			}
			b.WriteString("." + frac)
			continue
		}
		v, err := convertValue(part)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(":")
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// convertDate keeps the 年/月/日/号 markers and converts each field
func convertDate(original string) (string, error) {
	var b strings.Builder
	rest := original

	if year, after, ok := strings.Cut(rest, "年"); ok {
		y, err := convertPureDigits(year, false)
		if err != nil {
			return "", err
		}
		b.WriteString(y + "年")
		rest = after
	}
	if month, after, ok := strings.Cut(rest, "月"); ok {
		m, err := convertValue(month)
		if err != nil {
			return "", err
		}
		b.WriteString(m + "月")
		rest = after
	}
	for _, marker := range []string{"日", "号"} {
		if day, _, ok := strings.Cut(rest, marker); ok {
			d, err := convertValue(day)
			if err != nil {
				return "", err
			}
			b.WriteString(d + marker)
			break
		}
	}
	return b.String(), nil
}
