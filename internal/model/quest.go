package model

import "github.com/shopspring/decimal"

const GoldBadge = "gold"

// QuestRules is the subset of Rules the quest ladder needs.
type QuestRules struct {
	ProfitRate decimal.Decimal
	OXAnswers  int
	Diversity  int
}

func (r Rules) Quest() QuestRules {
	return QuestRules{ProfitRate: r.QuestProfitRate, OXAnswers: r.QuestOXAnswers, Diversity: r.QuestDiversity}
}

// ObserveProfitRate latches the profit-rate flag once rate reaches the
// threshold. It reports whether the progress changed.
func (q *QuestProgress) ObserveProfitRate(rate decimal.Decimal, rules QuestRules) bool {
	if q.ProfitRateAchieved || rate.LessThan(rules.ProfitRate) {
		return false
	}
	q.ProfitRateAchieved = true
	q.checkIntermediate(rules)
	return true
}

// ObserveDiversity completes the beginner quest once enough distinct symbols
// are held, unlocking the intermediate quest.
func (q *QuestProgress) ObserveDiversity(holdings int, rules QuestRules) bool {
	if q.BeginnerStatus != QuestInProgress || holdings < rules.Diversity {
		return false
	}
	q.BeginnerStatus = QuestCompleted
	if q.IntermediateStatus == QuestLocked {
		q.IntermediateStatus = QuestInProgress
	}
	q.checkIntermediate(rules)
	return true
}

// RecordCorrectAnswer counts one correct debate prediction.
func (q *QuestProgress) RecordCorrectAnswer(rules QuestRules) {
	q.OXCorrectAnswers++
	q.checkIntermediate(rules)
}

func (q *QuestProgress) checkIntermediate(rules QuestRules) {
	if q.IntermediateStatus != QuestInProgress || !q.ProfitRateAchieved || q.OXCorrectAnswers < rules.OXAnswers {
		return
	}
	q.IntermediateStatus = QuestCompleted
	q.AdvancedStatus = QuestInProgress
	q.Badge = GoldBadge
}
