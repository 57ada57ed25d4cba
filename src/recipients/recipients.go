// Package recipients turns raw operator input into a validated list of airdrop recipients.
package recipients

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/onemorebsmith/spl-airdrop/src/units"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MaxRecipients is the default ceiling on a single airdrop.
const MaxRecipients = 500

type DuplicatePolicy string

const (
	// DuplicatesAllow dispatches every row, so a repeated address is paid (and charged the
	// per-address fee) once per occurrence.
	DuplicatesAllow DuplicatePolicy = "allow"
	// DuplicatesReject keeps the first occurrence and excludes the rest with a warning.
	DuplicatesReject DuplicatePolicy = "reject"
)

// Validator checks an address against the target network grammar.
type Validator func(address string) error

type Options struct {
	Validator     Validator
	MaxRecipients int
	Duplicates    DuplicatePolicy
}

func (o Options) withDefaults() Options {
	if o.MaxRecipients <= 0 {
		o.MaxRecipients = MaxRecipients
	}
	if o.Duplicates == "" {
		o.Duplicates = DuplicatesAllow
	}
	if o.Validator == nil {
		o.Validator = func(string) error { return nil }
	}
	return o
}

// Warning annotates an input row that was excluded.
type Warning struct {
	Line    int
	Address string
	Reason  string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d (%s): %s", w.Line, w.Address, w.Reason)
}

type Set struct {
	Entries       []model.RecipientEntry
	Warnings      []Warning
	CustomAmounts bool
}

// Total is the sum of all entry amounts in display units.
func (s *Set) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.Entries {
		total = total.Add(e.Amount)
	}
	return total
}

// Addresses returns the entry addresses in order.
func (s *Set) Addresses() []string {
	out := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Address)
	}
	return out
}

// FromList builds a set from newline separated addresses sharing one amount.
func FromList(raw string, sharedAmount string, opts Options) (*Set, error) {
	opts = opts.withDefaults()
	amount, err := units.ParseAmount(sharedAmount)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, model.Validationf("amount must be greater than 0")
	}

	b := newBuilder(opts)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	line := 0
	for scanner.Scan() {
		line++
		address := strings.TrimSpace(scanner.Text())
		if address == "" {
			continue
		}
		b.add(line, address, amount)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading address list")
	}
	return b.finish()
}

// FromCSV builds a set from `address[,amount]` rows. A first row mentioning "address" is
// treated as a header. Rows without an amount fall back to defaultAmount when one is given.
func FromCSV(r io.Reader, defaultAmount string, opts Options) (*Set, error) {
	opts = opts.withDefaults()
	var fallback *decimal.Decimal
	if strings.TrimSpace(defaultAmount) != "" {
		d, err := units.ParseAmount(defaultAmount)
		if err != nil {
			return nil, err
		}
		if d.Sign() <= 0 {
			return nil, model.Validationf("default amount must be greater than 0")
		}
		fallback = &d
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	b := newBuilder(opts)
	for first := true; ; first = false {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, model.Validationf("malformed csv: %s", err)
		}
		line, _ := reader.FieldPos(0)
		if first && len(record) > 0 && strings.Contains(strings.ToLower(record[0]), "address") {
			continue
		}
		address := ""
		if len(record) > 0 {
			address = strings.TrimSpace(record[0])
		}
		if address == "" {
			continue
		}

		rawAmount := ""
		if len(record) > 1 {
			rawAmount = strings.TrimSpace(record[1])
		}
		if rawAmount == "" {
			if fallback == nil {
				b.warn(line, address, "missing amount")
				continue
			}
			b.add(line, address, *fallback)
			continue
		}

		amount, err := units.ParseAmount(rawAmount)
		if err != nil {
			b.warn(line, address, fmt.Sprintf("invalid amount %q", rawAmount))
			continue
		}
		if amount.Sign() <= 0 {
			b.warn(line, address, fmt.Sprintf("non-positive amount %s", amount))
			continue
		}
		if b.add(line, address, amount) {
			b.set.CustomAmounts = true
		}
	}
	return b.finish()
}

type builder struct {
	opts Options
	set  *Set
	seen map[string]int
}

func newBuilder(opts Options) *builder {
	return &builder{opts: opts, set: &Set{}, seen: map[string]int{}}
}

func (b *builder) warn(line int, address, reason string) {
	b.set.Warnings = append(b.set.Warnings, Warning{Line: line, Address: address, Reason: reason})
}

func (b *builder) add(line int, address string, amount decimal.Decimal) bool {
	if err := b.opts.Validator(address); err != nil {
		b.warn(line, address, fmt.Sprintf("invalid address: %s", err))
		return false
	}
	if first, dupe := b.seen[address]; dupe && b.opts.Duplicates == DuplicatesReject {
		b.warn(line, address, fmt.Sprintf("duplicate of line %d", first))
		return false
	}
	if _, dupe := b.seen[address]; !dupe {
		b.seen[address] = line
	}
	b.set.Entries = append(b.set.Entries, model.RecipientEntry{Address: address, Amount: amount})
	return true
}

func (b *builder) finish() (*Set, error) {
	if len(b.set.Entries) == 0 {
		return nil, model.Validationf("at least one recipient address is required")
	}
	if len(b.set.Entries) > b.opts.MaxRecipients {
		return nil, model.Validationf("too many recipients: %d (max %d), split into multiple airdrops",
			len(b.set.Entries), b.opts.MaxRecipients)
	}
	return b.set, nil
}

// DemoCSV is a sample upload with per-recipient amounts.
func DemoCSV() string {
	return strings.Join([]string{
		"address,amount",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v,100",
		"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263,250",
		"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN,500",
		"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So,75",
		"So11111111111111111111111111111111111111112,150",
	}, "\n") + "\n"
}
