package tools

import (
	"regexp"
	"time"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

// tickerArg returns a validated ticker. Schemas upper-case it before this runs.
func tickerArg(in Input) (string, error) {
	ticker := in.String("ticker")
	if !tickerPattern.MatchString(ticker) {
		return "", InvalidArgument("ticker must be 1-10 letters, digits, dots or dashes", nil)
	}
	return ticker, nil
}

// asOfArg returns "latest" or a YYYY-MM-DD date.
func asOfArg(in Input) (string, error) {
	asOf := in.String("as_of")
	if asOf == "" || asOf == "latest" {
		return "latest", nil
	}
	if _, err := time.Parse("2006-01-02", asOf); err != nil {
		return "", InvalidArgument(`as_of must be "latest" or YYYY-MM-DD`, err)
	}
	return asOf, nil
}

func tickerField() Field {
	return Field{
		Name:        "ticker",
		Type:        TypeString,
		Description: `Stock ticker symbol (e.g. "AAPL", "NVDA").`,
		Required:    true,
		MaxLength:   10,
		Uppercase:   true,
	}
}

func asOfField() Field {
	return Field{
		Name:        "as_of",
		Type:        TypeString,
		Description: `Analysis date in YYYY-MM-DD format, or "latest".`,
		Default:     "latest",
		MaxLength:   10,
	}
}

var optionTypeEnum = []string{"CALL", "PUT"}
