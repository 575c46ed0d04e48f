package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MissingQuotePolicy decides how a holding without a usable quote counts
// toward a valuation total.
type MissingQuotePolicy string

const (
	// MissingQuoteZero leaves the holding out of the total.
	MissingQuoteZero MissingQuotePolicy = "zero"
	// MissingQuoteCost carries the holding at its average buy price.
	MissingQuoteCost MissingQuotePolicy = "cost"
)

// Rules are the tunable constants of the game. Defaults match the live
// competition; a YAML rules file may override any of them.
type Rules struct {
	InitialCapital     decimal.Decimal    `yaml:"initial_capital"`
	FeeRate            decimal.Decimal    `yaml:"fee_rate"`
	MinOrderNotional   decimal.Decimal    `yaml:"min_order_notional"`
	USDToKRW           decimal.Decimal    `yaml:"usd_to_krw"`
	DomesticSuffix     string             `yaml:"domestic_suffix"`
	DebateReward       decimal.Decimal    `yaml:"debate_reward"`
	QuizReward         decimal.Decimal    `yaml:"quiz_reward"`
	QuizTriesPerSeason int                `yaml:"quiz_tries_per_season"`
	QuestProfitRate    decimal.Decimal    `yaml:"quest_profit_rate"`
	QuestOXAnswers     int                `yaml:"quest_ox_answers"`
	QuestDiversity     int                `yaml:"quest_diversity"`
	HallOfFameSize     int                `yaml:"hall_of_fame_size"`
	RankingListSize    int                `yaml:"ranking_list_size"`
	MissingQuote       MissingQuotePolicy `yaml:"missing_quote"`
}

func DefaultRules() Rules {
	return Rules{
		InitialCapital:     decimal.NewFromInt(10_000_000),
		FeeRate:            decimal.RequireFromString("0.0025"),
		MinOrderNotional:   decimal.NewFromInt(10_000),
		USDToKRW:           decimal.NewFromInt(1445),
		DomesticSuffix:     ".KS",
		DebateReward:       decimal.NewFromInt(100_000),
		QuizReward:         decimal.NewFromInt(2_000_000),
		QuizTriesPerSeason: 2,
		QuestProfitRate:    decimal.NewFromInt(10),
		QuestOXAnswers:     5,
		QuestDiversity:     3,
		HallOfFameSize:     10,
		RankingListSize:    100,
		MissingQuote:       MissingQuoteZero,
	}
}

func (r Rules) Validate() error {
	if !r.InitialCapital.IsPositive() {
		return fmt.Errorf("initial_capital must be > 0")
	}
	if r.FeeRate.IsNegative() || r.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee_rate must be in [0, 1)")
	}
	if r.MinOrderNotional.IsNegative() {
		return fmt.Errorf("min_order_notional must be >= 0")
	}
	if !r.USDToKRW.IsPositive() {
		return fmt.Errorf("usd_to_krw must be > 0")
	}
	if r.HallOfFameSize <= 0 || r.RankingListSize <= 0 {
		return fmt.Errorf("hall_of_fame_size and ranking_list_size must be > 0")
	}
	switch r.MissingQuote {
	case MissingQuoteZero, MissingQuoteCost:
	default:
		return fmt.Errorf("missing_quote must be %q or %q", MissingQuoteZero, MissingQuoteCost)
	}
	return nil
}

// IsDomestic reports whether symbol is priced in the home currency.
func (r Rules) IsDomestic(symbol string) bool {
	return r.DomesticSuffix != "" && strings.HasSuffix(strings.ToUpper(symbol), strings.ToUpper(r.DomesticSuffix))
}
