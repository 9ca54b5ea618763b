package insights

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrRejectedSQL wraps every validation failure so callers can map the whole
// class to a 400 instead of a 502.
var ErrRejectedSQL = errors.New("generated sql rejected")

type ValidateOptions struct {
	AllowedShopIDs  []string
	MaxDaysLookback int    // default 90
	TodayISO        string // "YYYY-MM-DD"; empty means UTC today
}

var (
	shopIDTokenRe  = regexp.MustCompile(`\bshop_id\b`)
	shopIDPredRe   = regexp.MustCompile(`\bshop_id\b\s*(=|in)\s*\(([^)]*)\)|\bshop_id\b\s*=\s*'([^']*)'`)
	quotedValueRe  = regexp.MustCompile(`'([^']*)'`)
	dtBetweenRe    = regexp.MustCompile(`\bdt\b\s+between\s+(date\s+)?'(\d{4}-\d{2}-\d{2})'\s+and\s+(date\s+)?'(\d{4}-\d{2}-\d{2})'`)
	dtLowerBoundRe = regexp.MustCompile(`\bdt\b\s*(>=|>)\s*(date\s+)?'(\d{4}-\d{2}-\d{2})'`)
	dtTokenRe      = regexp.MustCompile(`\bdt\b`)
)

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejectedSQL, fmt.Sprintf(format, args...))
}

// ValidateSQL enforces the read-only contract for model-generated queries:
// single SELECT, no comments or statement chaining, a bounded dt lower bound
// for partition pruning, and shop_id restricted to the caller's shop.
func ValidateSQL(sql string, opt ValidateOptions) error {
	s := strings.TrimSpace(sql)
	if s == "" {
		return reject("empty sql")
	}
	low := strings.ToLower(s)

	if strings.Contains(low, ";") {
		return reject("semicolon not allowed")
	}
	if strings.Contains(low, "--") || strings.Contains(low, "/*") {
		return reject("comments not allowed")
	}
	if !strings.HasPrefix(low, "select") && !strings.HasPrefix(low, "with") {
		return reject("only SELECT queries are allowed")
	}
	for _, kw := range []string{
		"insert ", "update ", "delete ", "merge ", "drop ", "alter ", "create ",
		"truncate ", "grant ", "revoke ", "call ", "execute ", "prepare ", "unload ",
	} {
		if strings.Contains(low, kw) {
			return reject("disallowed keyword: %s", strings.TrimSpace(kw))
		}
	}

	if err := checkBoundedDT(low, opt); err != nil {
		return err
	}
	return checkShopScope(low, opt.AllowedShopIDs)
}

func checkBoundedDT(low string, opt ValidateOptions) error {
	maxDays := opt.MaxDaysLookback
	if maxDays <= 0 {
		maxDays = 90
	}
	todayISO := opt.TodayISO
	if todayISO == "" {
		todayISO = time.Now().UTC().Format("2006-01-02")
	}
	today, err := time.Parse("2006-01-02", todayISO)
	if err != nil {
		return fmt.Errorf("invalid TodayISO: %s", opt.TodayISO)
	}
	minAllowed := today.AddDate(0, 0, -maxDays)

	var start string
	if m := dtBetweenRe.FindStringSubmatch(low); len(m) == 5 {
		start = m[2]
	} else if m := dtLowerBoundRe.FindStringSubmatch(low); len(m) == 4 {
		start = m[3]
	} else if dtTokenRe.MatchString(low) {
		return reject("dt filter must include a lower bound")
	} else {
		return reject("missing required dt filter")
	}

	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return reject("invalid dt lower bound: %s", start)
	}
	if startDate.Before(minAllowed) {
		return reject("dt lookback exceeds %d days", maxDays)
	}
	return nil
}

func checkShopScope(low string, allowed []string) error {
	if !shopIDTokenRe.MatchString(low) {
		return reject("missing required shop_id filter")
	}

	allow := map[string]bool{}
	for _, v := range allowed {
		allow[strings.ToLower(strings.TrimSpace(v))] = true
	}

	matches := shopIDPredRe.FindAllStringSubmatch(low, -1)
	if len(matches) == 0 {
		return reject("shop_id filter must be equality or IN list")
	}
	for _, m := range matches {
		if strings.TrimSpace(m[2]) != "" {
			vals := quotedValueRe.FindAllStringSubmatch(m[2], -1)
			if len(vals) == 0 {
				return reject("shop_id IN list must contain quoted values")
			}
			for _, vm := range vals {
				if !allow[strings.ToLower(strings.TrimSpace(vm[1]))] {
					return reject("shop_id value not allowed: %s", vm[1])
				}
			}
			return nil
		}
		if strings.TrimSpace(m[3]) != "" {
			if !allow[strings.ToLower(strings.TrimSpace(m[3]))] {
				return reject("shop_id value not allowed: %s", m[3])
			}
			return nil
		}
	}
	return reject("unable to validate shop_id predicate")
}
