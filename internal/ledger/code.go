package ledger

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"regexp"
	"time"

	"payment-ledger/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCodePrefix = "TX"
	codeDateLayout    = "20060102"
	sequenceKeyTTL    = 48 * time.Hour
)

// CodeGenerator produces candidate transaction codes.
// Uniqueness is decided by the Store; a rejected code is simply replaced.
type CodeGenerator interface {
	Next(ctx context.Context) (string, error)
}

var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// RandomCodes yields <prefix><yyyymmdd><10 random base32 chars>.
type RandomCodes struct {
	Prefix string
	Clock  func() time.Time
	Rand   io.Reader
}

func NewRandomCodes(prefix string) *RandomCodes {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	return &RandomCodes{Prefix: prefix, Clock: time.Now, Rand: rand.Reader}
}

func (g *RandomCodes) Next(_ context.Context) (string, error) {
	buf := make([]byte, 7)
	if _, err := io.ReadFull(g.Rand, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	suffix := crockford.EncodeToString(buf)[:10]
	return g.Prefix + g.Clock().UTC().Format(codeDateLayout) + suffix, nil
}

// SequenceCodes yields <prefix><yyyymmdd><6-digit daily sequence> backed by a Redis counter.
type SequenceCodes struct {
	rdb    *redis.Client
	prefix string
	clock  func() time.Time
}

func NewSequenceCodes(rdb *redis.Client, prefix string) *SequenceCodes {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	return &SequenceCodes{rdb: rdb, prefix: prefix, clock: time.Now}
}

func (g *SequenceCodes) Next(ctx context.Context) (string, error) {
	day := g.clock().UTC().Format(codeDateLayout)
	n, err := utils.NextSequence(ctx, g.rdb, "ledger:txcode:"+g.prefix+":"+day, sequenceKeyTTL)
	if err != nil {
		return "", fmt.Errorf("next code sequence: %w", err)
	}
	return fmt.Sprintf("%s%s%06d", g.prefix, day, n), nil
}

// CodePattern matches codes from either generator, e.g. for extraction from free-text
// bank transfer descriptions.
func CodePattern(prefix string) *regexp.Regexp {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	return regexp.MustCompile(regexp.QuoteMeta(prefix) + `\d{8}[0-9A-Z]{6,10}`)
}
