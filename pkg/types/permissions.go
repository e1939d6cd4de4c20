package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SpendPeriod is the window a spend limit resets over
type SpendPeriod string

const (
	PeriodMinute SpendPeriod = "minute"
	PeriodHour   SpendPeriod = "hour"
	PeriodDay    SpendPeriod = "day"
	PeriodWeek   SpendPeriod = "week"
	PeriodMonth  SpendPeriod = "month"
	PeriodYear   SpendPeriod = "year"
)

// Valid reports whether p is a known period
func (p SpendPeriod) Valid() bool {
	switch p {
	case PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return true
	}
	return false
}

// Selector is a 4-byte function selector
type Selector [4]byte

// ParseSelector accepts either a 0x-prefixed 4-byte selector or a function signature
// such as "transfer(address,uint256)".
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		b, err := hexutil.Decode(s)
		if err != nil {
			return sel, fmt.Errorf("invalid selector %q: %w", s, err)
		}
		if len(b) != 4 {
			return sel, fmt.Errorf("invalid selector length %d", len(b))
		}
		copy(sel[:], b)
		return sel, nil
	}
	if !strings.Contains(s, "(") || !strings.HasSuffix(s, ")") {
		return sel, fmt.Errorf("invalid function signature %q", s)
	}
	copy(sel[:], crypto.Keccak256([]byte(strings.ReplaceAll(s, " ", "")))[:4])
	return sel, nil
}

// MarshalText encodes the selector as 0x-prefixed hex
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(s[:])), nil
}

// UnmarshalText decodes a selector or function signature
func (s *Selector) UnmarshalText(text []byte) error {
	sel, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = sel
	return nil
}

// CallPermission scopes a key to a target and/or function. Nil fields match anything.
type CallPermission struct {
	To       *common.Address `json:"to,omitempty"`
	Selector *Selector       `json:"signature,omitempty"`
}

// Matches reports whether call falls inside this permission
func (p CallPermission) Matches(call Call) bool {
	if p.To != nil && *p.To != call.To {
		return false
	}
	if p.Selector != nil {
		if len(call.Data) < 4 {
			return false
		}
		var sel Selector
		copy(sel[:], call.Data[:4])
		if sel != *p.Selector {
			return false
		}
	}
	return true
}

// SpendPermission caps the amount of a token spendable per period.
// A nil token is the native currency.
type SpendPermission struct {
	Limit  *big.Int        `json:"limit"`
	Period SpendPeriod     `json:"period"`
	Token  *common.Address `json:"token,omitempty"`
}

type spendPermissionJSON struct {
	Limit  *hexutil.Big    `json:"limit"`
	Period SpendPeriod     `json:"period"`
	Token  *common.Address `json:"token,omitempty"`
}

func (p SpendPermission) MarshalJSON() ([]byte, error) {
	return json.Marshal(spendPermissionJSON{
		Limit:  (*hexutil.Big)(p.Limit),
		Period: p.Period,
		Token:  p.Token,
	})
}

func (p *SpendPermission) UnmarshalJSON(data []byte) error {
	var raw spendPermissionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Limit = (*big.Int)(raw.Limit)
	p.Period = raw.Period
	p.Token = raw.Token
	return nil
}

// SignatureVerification lists contracts allowed to verify signatures made by the key
type SignatureVerification struct {
	Addresses []common.Address `json:"addresses"`
}

// Permissions is the ordered scope attached to a session key
type Permissions struct {
	Calls                 []CallPermission       `json:"calls,omitempty"`
	Spend                 []SpendPermission      `json:"spend,omitempty"`
	SignatureVerification *SignatureVerification `json:"signatureVerification,omitempty"`
}

// Covers reports whether every call is matched by at least one call permission.
// Permissions without call scopes cover nothing.
func (p *Permissions) Covers(calls []Call) bool {
	if p == nil || len(p.Calls) == 0 || len(calls) == 0 {
		return false
	}
	for _, call := range calls {
		matched := false
		for _, perm := range p.Calls {
			if perm.Matches(call) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
