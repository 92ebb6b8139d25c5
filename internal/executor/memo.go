package executor

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/ashureev/cypherguy/internal/domain"
)

// MaxMemoBytes is the largest memo the Memo program accepts in one instruction.
const MaxMemoBytes = 566

// Memo returns the audit memo for a computed request.
func Memo(category domain.Category, req domain.Request) string {
	switch category {
	case domain.CategoryCredit:
		return fmt.Sprintf("CYPHERGUY_CREDIT|user:%s|amount:%s|rate:%s|score:%s",
			req.UserID, num(req.Amount), num(req.InterestRate), num(req.CreditScore))
	case domain.CategoryRWA:
		return fmt.Sprintf("CYPHERGUY_RWA|user:%s|value:%s|supply:%d|compliance:%d",
			req.UserID, num(req.PropertyValue), req.TokenSupply, req.ComplianceScore)
	case domain.CategoryTrade:
		return fmt.Sprintf("CYPHERGUY_TRADE|user:%s|sell:%s_%s|buy:%s|price:%s",
			req.UserID, num(req.SellAmount), req.SellToken, req.BuyToken, num(req.MatchPrice))
	case domain.CategoryAutomation:
		return fmt.Sprintf("CYPHERGUY_AUTO|user:%s|strategy:%s|apy:%s",
			req.UserID, req.Strategy, num(req.ExpectedAPY))
	}
	return fmt.Sprintf("CYPHERGUY_%s|user:%s", category, req.UserID)
}

// TruncateMemo cuts s to at most MaxMemoBytes without splitting a rune.
func TruncateMemo(s string) string {
	if len(s) <= MaxMemoBytes {
		return s
	}
	n := MaxMemoBytes
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
