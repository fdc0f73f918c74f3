package itn

import (
	"regexp"
	"strings"
)

// Kind identifies the shape of a matched numeral run
type Kind int

const (
	KindNone Kind = iota
	KindPureDigits
	KindValue
	KindPercent
	KindFraction
	KindRatio
	KindTime
	KindDate
)

// commonUnits are the unit characters that commonly trail a number
const commonUnits = "个只分万亿秒"

const asciiLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// operand is one side of a fraction or ratio: a value with an optional decimal part
const operand = `[零一二三四五六七八九十百千万]+(?:点[零一二三四五六七八九]+)?`

var (
	pureDigitsPattern = regexp.MustCompile(`^[零幺一二三四五六七八九]+(?:点[零幺一二三四五六七八九]+)* *[a-zA-Z` + commonUnits + `]?$`)
	valuePattern      = regexp.MustCompile(`^十?(?:零?[一二两三四五六七八九十][十百千万]{1,2})*零?[一二三四五六七八九]?(?:点[零一二三四五六七八九]+)? *[a-zA-Z` + commonUnits + `]?$`)
	percentPattern    = regexp.MustCompile(`^百分之[零一二三四五六七八九十百千万]+(?:点[零一二三四五六七八九]+)?$`)
	fractionPattern   = regexp.MustCompile(`^` + operand + `分之` + operand + `$`)
	ratioPattern      = regexp.MustCompile(`^` + operand + `比` + operand + `$`)
	timePattern       = regexp.MustCompile(`^[零一二三四五六七八九十]+点[零一二三四五六七八九十]+分(?:[零一二三四五六七八九十]+秒)?$`)
	datePattern       = regexp.MustCompile(`^(?:[零一二三四五六七八九]+年)?[一二三四五六七八九十]+月[一二三四五六七八九十]+[日号]$`)
)

// String returns the kind name used in logs and tests
func (k Kind) String() string {
	switch k {
	case KindPureDigits:
		return "pure_digits"
	case KindValue:
		return "value"
	case KindPercent:
		return "percent"
	case KindFraction:
		return "fraction"
	case KindRatio:
		return "ratio"
	case KindTime:
		return "time"
	case KindDate:
		return "date"
	default:
		return "none"
	}
}

// Classify returns the first kind whose pattern fully matches run.
// The digit and value shapes are tested with trailing unit characters trimmed.
func Classify(run string) Kind {
	trimmed := strings.Trim(run, commonUnits)

	switch {
	case pureDigitsPattern.MatchString(trimmed):
		return KindPureDigits
	case valuePattern.MatchString(trimmed):
		return KindValue
	case percentPattern.MatchString(run):
		return KindPercent
	case fractionPattern.MatchString(run):
		return KindFraction
	case ratioPattern.MatchString(run):
		return KindRatio
	case timePattern.MatchString(run):
		return KindTime
	case datePattern.MatchString(run):
		return KindDate
	default:
		return KindNone
	}
}

// Convert rewrites run according to kind. KindNone returns run unchanged.
func Convert(kind Kind, run string) (string, error) {
	switch kind {
	case KindPureDigits:
		return convertPureDigits(run, false)
	case KindValue:
		return convertValue(run)
	case KindPercent:
		return convertPercent(run)
	case KindFraction:
		return convertFraction(run)
	case KindRatio:
		return convertRatio(run)
	case KindTime:
		return convertTime(run)
	case KindDate:
		return convertDate(run)
	default:
		return run, nil
	}
}
