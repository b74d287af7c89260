package dm

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/benmeehan/mip-agent/pkg/transport"
)

const zeroTimestamp = "0000000000000"

// idGenerator issues strictly increasing message ids. With a clock the id is the
// 13-digit millisecond timestamp followed by the 11-digit counter; without one it is
// the counter alone, zero padded to 24 digits.
type idGenerator struct {
	mu      sync.Mutex
	counter int64
	clock   transport.TimestampProvider
	lastTS  string
}

func newIDGenerator(clock transport.TimestampProvider) *idGenerator {
	return &idGenerator{
		counter: int64(rand.Int31n(1<<30)) + 1,
		clock:   clock,
	}
}

// next returns a fresh message id and the timestamp it embeds. The timestamp never
// goes backwards, so ids stay ordered across clock steps and clock failures.
func (g *idGenerator) next() (id, ts string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	if g.clock == nil {
		return fmt.Sprintf("%024d", g.counter), ""
	}

	now, err := g.clock.Timestamp()
	switch {
	case err != nil || len(now) != len(zeroTimestamp):
		if g.lastTS == "" {
			g.lastTS = zeroTimestamp
		}
	case now > g.lastTS:
		g.lastTS = now
	}
	return fmt.Sprintf("%s%011d", g.lastTS, g.counter), g.lastTS
}
