package alert

import (
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/rs/zerolog"

	"github.com/verify-hub/verify-hub/internal/domain/order"
)

// Rule is a named highlight expression for the operator console, e.g.
// "high_value: cart_total > 500". Rules only decorate the operator feed;
// they never influence transitions.
type Rule struct {
	Name string
	expr *govaluate.EvaluableExpression
}

// Service evaluates highlight rules against session snapshots.
type Service struct {
	rules  []Rule
	logger zerolog.Logger
}

// NewService parses "name: expression" definitions. Unparseable rules are
// logged and skipped rather than failing startup.
func NewService(definitions []string, logger zerolog.Logger) *Service {
	s := &Service{logger: logger.With().Str("service", "alert").Logger()}
	for _, def := range definitions {
		name, exprStr, ok := strings.Cut(def, ":")
		if !ok {
			s.logger.Warn().Str("rule", def).Msg("alert rule missing name prefix, skipped")
			continue
		}
		name = strings.TrimSpace(name)
		expr, err := govaluate.NewEvaluableExpression(strings.TrimSpace(exprStr))
		if err != nil {
			s.logger.Warn().Err(err).Str("rule", name).Msg("invalid alert rule, skipped")
			continue
		}
		s.rules = append(s.rules, Rule{Name: name, expr: expr})
	}
	return s
}

// RuleCount reports how many rules parsed successfully.
func (s *Service) RuleCount() int {
	return len(s.rules)
}

// Evaluate returns the names of rules matching the session, sorted.
// A rule that errors or yields a non-boolean simply does not match.
func (s *Service) Evaluate(sess *order.Session) []string {
	if sess == nil || len(s.rules) == 0 {
		return nil
	}
	params := buildParams(sess)
	var flags []string
	for _, r := range s.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			flags = append(flags, r.Name)
		}
	}
	sort.Strings(flags)
	return flags
}

func buildParams(sess *order.Session) map[string]interface{} {
	params := map[string]interface{}{
		"cart_total": sess.CartTotal,
		"status":     string(sess.Status),
	}
	for name, f := range sess.Shipping {
		params["shipping."+name] = f.Value
	}
	if sess.Coupon != nil {
		params["coupon.code"] = sess.Coupon.Code
		params["coupon.expiry"] = sess.Coupon.Expiry
	}
	return params
}
