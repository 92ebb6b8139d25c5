// Package chat implements the conversational front end: keyword intent
// detection, credit slot filling and optional external classifiers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
)

// ErrNoIntent is returned by a TextClassifier that could not map the text
// to one of the four categories.
var ErrNoIntent = errors.New("no intent detected")

// TextClassifier maps free text to a category.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (domain.Category, error)
}

var (
	creditWords     = []string{"credit", "loan", "borrow"}
	rwaWords        = []string{"rwa", "tokenize", "property", "asset"}
	tradeWords      = []string{"trade", "swap", "exchange"}
	automationWords = []string{"automat", "optimize", "manage"}
	helpWords       = []string{"help", "what", "how"}

	// Scan order matters: the first hit becomes the collateral.
	knownTokens = []string{"usdc", "sol", "eth", "usdt", "btc"}

	numberPattern = regexp.MustCompile(`\d+`)
)

// Canned replies.
const (
	WelcomeReply = "👋 Hi! I'm CypherGuy, your DeFi assistant!\n\n" +
		"I can help you with:\n" +
		"💳 Private DeFi Credit\n" +
		"🏢 RWA Tokenization\n" +
		"🌑 Dark Pool Trading\n" +
		"🤖 DeFi Automation\n\n" +
		"What would you like to do?"

	GoodbyeReply = "👋 Thanks for using CypherGuy! Come back anytime you need DeFi help!"

	creditIntroReply = "💳 I can help you get a private DeFi loan!\n\n" +
		"I'll need:\n" +
		"- Amount (USDC)\n" +
		"- Collateral type\n\n" +
		"Your credit score will be calculated privately using MPC. " +
		"How much would you like to borrow?"

	rwaReply = "🏢 I can help tokenize your real-world assets!\n\n" +
		"I'll need:\n" +
		"- Property value\n" +
		"- Location\n" +
		"- Property type\n\n" +
		"I'll check compliance rules automatically. " +
		"What asset would you like to tokenize?"

	tradeReply = "🌑 I can help you trade privately in a dark pool!\n\n" +
		"I'll need:\n" +
		"- Amount to sell\n" +
		"- Tokens (from/to)\n\n" +
		"Your order will be matched privately without moving the market. " +
		"What would you like to trade?"

	automationReply = "🤖 I can automatically optimize your portfolio!\n\n" +
		"I'll need:\n" +
		"- Portfolio value\n" +
		"- Strategy (yield farming, balanced, etc)\n\n" +
		"I'll monitor markets 24/7 and rebalance for best yields. " +
		"What strategy interests you?"

	helpReply = "🦸 I'm CypherGuy - your personal DeFi assistant!\n\n" +
		"I help you with complex DeFi operations using AI agents:\n\n" +
		"💳 **Private DeFi Credit** - Get loans without revealing your portfolio\n" +
		"🏢 **RWA Compliance** - Tokenize real-world assets following regulations\n" +
		"🌑 **Dark Pool Trading** - Trade large amounts privately\n" +
		"🤖 **DeFi Automation** - Auto-optimize for best yields\n\n" +
		"Just tell me what you need!"

	fallbackReply = "I can help with:\n" +
		"💳 Credit/Loans\n" +
		"🏢 RWA Tokenization\n" +
		"🌑 Private Trading\n" +
		"🤖 Portfolio Automation\n\n" +
		"Which one interests you?"
)

// Classifier runs one chat turn at a time. External is consulted only when
// keyword matching fails outside a credit conversation; it may be nil.
type Classifier struct {
	External TextClassifier
	now      func() time.Time
}

// NewClassifier creates a classifier with an optional external fallback.
func NewClassifier(external TextClassifier) *Classifier {
	return &Classifier{External: external, now: time.Now}
}

// ClassifyTurn advances chatCtx by one user message and returns the new
// context and the reply. A returned context in ChatStateProcessing carries
// the completed credit slots; callers reset it to idle before storing.
func (c *Classifier) ClassifyTurn(ctx context.Context, sender, text string, chatCtx domain.ChatContext) (domain.ChatContext, string) {
	if chatCtx.Sender == "" {
		chatCtx.Sender = sender
	}
	if chatCtx.State == "" {
		chatCtx.State = domain.ChatStateIdle
	}

	lower := strings.ToLower(text)
	amounts := extractAmounts(text)
	tokens := extractTokens(lower)
	normalized := strings.NewReplacer("do borrow", "borrow", "to borrow", "borrow").Replace(lower)

	var (
		next  domain.ChatContext
		reply string
	)
	switch {
	case containsAny(normalized, creditWords) || chatCtx.Intent == domain.CategoryCredit:
		next, reply = creditTurn(chatCtx, amounts, tokens)
	case containsAny(lower, rwaWords):
		next, reply = chatCtx, rwaReply
	case containsAny(lower, tradeWords):
		next, reply = chatCtx, tradeReply
	case containsAny(lower, automationWords):
		next, reply = chatCtx, automationReply
	case containsAny(lower, helpWords):
		next, reply = chatCtx, helpReply
	default:
		next, reply = c.external(ctx, chatCtx, text, amounts, tokens)
	}

	next.UpdatedAt = c.now().UTC()
	return next, reply
}

func creditTurn(cur domain.ChatContext, amounts []int, tokens []string) (domain.ChatContext, string) {
	if cur.Intent != domain.CategoryCredit {
		next := cur.Reset()
		next.Intent = domain.CategoryCredit
		next.State = domain.ChatStateCollectingAmount
		if len(amounts) > 0 {
			next.Amount = &amounts[0]
		}
		if len(tokens) > 0 {
			next.Collateral = tokens[0]
		}
		switch {
		case next.HasAmount() && next.Collateral != "":
			return processing(next, "✅ Perfect! Processing your request:")
		case next.HasAmount():
			return next, fmt.Sprintf("💳 I can help you get a private DeFi loan!\n\n✅ Amount: %d USDC\n\n"+
				"What collateral would you like to use?\n(e.g., SOL, ETH, USDC)", *next.Amount)
		}
		return next, creditIntroReply
	}

	next := cur
	switch {
	case len(amounts) > 0 && !next.HasAmount():
		next.Amount = &amounts[0]
		if next.Collateral == "" && len(tokens) > 0 {
			next.Collateral = tokens[0]
		}
		if next.Collateral != "" {
			return processing(next, "✅ Got it! Processing your request:")
		}
		next.State = domain.ChatStateCollectingCollateral
		return next, fmt.Sprintf("✅ Amount: %d USDC\n\nWhat collateral would you like to use?\n(e.g., SOL, ETH, USDC)", *next.Amount)

	case len(tokens) > 0 && next.Collateral == "":
		next.Collateral = tokens[0]
		if next.HasAmount() {
			return processing(next, "✅ Processing your request:")
		}
		next.State = domain.ChatStateCollectingAmount
		return next, fmt.Sprintf("✅ Collateral: %s\n\nHow much USDC would you like to borrow?", next.Collateral)

	case len(amounts) > 0 && len(tokens) > 0:
		next.Amount = &amounts[0]
		next.Collateral = tokens[0]
		return processing(next, "✅ Perfect! Processing your request:")
	}

	return next, fmt.Sprintf("I need:\n- Amount: %s\n- Collateral: %s\n\nWhat's missing?", amountStatus(next), collateralStatus(next))
}

func processing(next domain.ChatContext, lead string) (domain.ChatContext, string) {
	next.State = domain.ChatStateProcessing
	return next, fmt.Sprintf("%s\n\n💰 Amount: %d USDC\n🔒 Collateral: %s\n\n"+
		"🔍 Checking credit policy...\n📊 Calculating credit score...\n\n"+
		"Processing via Policy → Compute → Executor!", lead, *next.Amount, next.Collateral)
}

func (c *Classifier) external(ctx context.Context, cur domain.ChatContext, text string, amounts []int, tokens []string) (domain.ChatContext, string) {
	if c.External == nil {
		return cur, fallbackReply
	}

	intent, err := c.External.Classify(ctx, text)
	if err == nil && !intent.Valid() {
		err = fmt.Errorf("%w: %q", ErrNoIntent, intent)
	}
	if err != nil {
		slog.Warn("external intent classification failed, using fallback", "sender", cur.Sender, "error", err)
		return cur, fallbackReply
	}
	slog.Info("external classifier detected intent", "sender", cur.Sender, "intent", intent)

	if intent != domain.CategoryCredit {
		return cur, fmt.Sprintf("I see you're interested in %s. Let me help you with that!", intent)
	}
	return creditTurn(cur.Reset(), amounts, tokens)
}

func amountStatus(c domain.ChatContext) string {
	if c.HasAmount() {
		return strconv.Itoa(*c.Amount) + " USDC ✅"
	}
	return "❓ Not provided yet"
}

func collateralStatus(c domain.ChatContext) string {
	if c.Collateral != "" {
		return c.Collateral + " ✅"
	}
	return "❓ Not provided yet"
}

func extractAmounts(text string) []int {
	var out []int
	for _, m := range numberPattern.FindAllString(text, -1) {
		n, err := strconv.Atoi(m)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// extractTokens returns the known symbols that appear as whole words, so
// "method" does not read as ETH. Digits may touch a symbol ("5sol").
func extractTokens(lower string) []string {
	var out []string
	for _, t := range knownTokens {
		if containsWord(lower, t) {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func containsWord(s, word string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// KeywordIntent returns the category whose keywords appear in text, or
// ErrNoIntent. It is the classifier served over gRPC.
func KeywordIntent(text string) (domain.Category, error) {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, creditWords):
		return domain.CategoryCredit, nil
	case containsAny(lower, rwaWords):
		return domain.CategoryRWA, nil
	case containsAny(lower, tradeWords):
		return domain.CategoryTrade, nil
	case containsAny(lower, automationWords):
		return domain.CategoryAutomation, nil
	}
	return "", ErrNoIntent
}

// KeywordClassifier is a TextClassifier over KeywordIntent with an optional
// fallback for texts no keyword matches.
type KeywordClassifier struct {
	Fallback TextClassifier
}

// Classify implements TextClassifier.
func (k KeywordClassifier) Classify(ctx context.Context, text string) (domain.Category, error) {
	intent, err := KeywordIntent(text)
	if errors.Is(err, ErrNoIntent) && k.Fallback != nil {
		return k.Fallback.Classify(ctx, text)
	}
	return intent, err
}
